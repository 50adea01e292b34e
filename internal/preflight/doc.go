// Package preflight provides readiness checks for the filesystem layout and
// external services stagehand depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure, so a
//     misconfigured pipeline is visible before the first tick.
//   - The CLI "stagehand status" command renders the same results as a table.
//
// Each check is gated by its config toggle -- unconfigured integrations are
// skipped.
package preflight
