// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp stage names, entry names, and tick correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     permanent failures (validation, configuration) from retryable ones.
package services
