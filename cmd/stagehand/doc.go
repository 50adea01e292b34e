// Package main hosts the stagehand CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, drives single
// stage ticks for operators and scripts, and reports stage occupancy,
// preflight results, and recent ticks straight from the filesystem and the
// journal. Configuration is resolved once per invocation in
// PersistentPreRunE; commands that must work without a config (config init)
// opt out with the skipConfigLoad annotation.
//
// Keep this package lean: behavior belongs in the internal packages, and
// commands here only wire and render.
package main
