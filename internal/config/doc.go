// Package config loads, normalizes, and validates stagehand configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STAGEHAND_S3_SECRET_ACCESS_KEY. Every stage directory is resolved here from
// the pipeline root so the rest of the daemon only ever sees absolute paths.
//
// The configuration is read once at startup and treated as immutable for the
// lifetime of the process.
package config
