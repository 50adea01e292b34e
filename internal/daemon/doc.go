// Package daemon coordinates the long-running stagehand process.
//
// It wires configuration, the tick journal, and the workflow manager into a
// single lifecycle with flock-based locking, so one process owns one pipeline
// root at a time. The daemon also reports combined status and sends test
// notifications.
//
// Keep orchestration logic here: stage behavior lives in the stage packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
