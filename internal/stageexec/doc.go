// Package stageexec drives one pipeline stage through a single tick: scan the
// source directory, fan the snapshot out to the stage's classifier, and
// perform the atomic move each decision asks for.
package stageexec
