// Package stagefs holds the two filesystem primitives every pipeline stage is
// built from: a point-in-time scan of a stage directory and an atomic move of
// one entry into another stage directory.
//
// Stage directories are the durable state of the pipeline. An entry belongs to
// exactly one stage at any instant because the only mutation is rename(2)
// within one filesystem.
package stagefs
