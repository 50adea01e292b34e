// Package logging assembles structured slog loggers and formatting helpers used
// across stagehand.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can tag log lines
// with the stage name, the entry being moved, and the tick correlation ID. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, plus pruning of old per-run log files.
package logging
