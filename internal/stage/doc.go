// Package stage defines the contracts shared by pipeline stages: the per-entry
// Decision a classifier returns, the Handler the workflow manager schedules,
// and the Stats and Health records reported back.
package stage
