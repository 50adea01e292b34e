// Package logs reads the daemon log file for the `stagehand logs` command.
//
// Last returns the trailing lines of a file, optionally filtered, and Follow
// polls the file for appended lines until its context ends. Follow starts
// over when the file shrinks, which happens when the daemon restarts and the
// stagehand.log pointer moves to a new per-run file.
package logs
