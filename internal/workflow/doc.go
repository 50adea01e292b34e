// Package workflow schedules stage ticks.
//
// The Manager runs one lane per registered stage handler. A lane ticks its
// handler immediately on start, then waits its own poll interval between
// ticks, so a slow or backlogged stage never delays another. Each tick gets a
// fresh correlation ID, is journaled and counted, and tick failures are
// logged, recorded as the lane's last error, and optionally pushed as a
// notification. Nothing a tick returns (including a panic) stops its lane;
// only cancellation does.
//
// Add new stages by implementing stage.Handler and registering them through
// pipeline.Build; this package only coordinates timing and bookkeeping.
package workflow
