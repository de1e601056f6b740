// Package main hosts the casewatch CLI entrypoint and command graph.
//
// Commands produce status snapshots (classify), watch them until the job is
// done (watch, run, jobs watch) and drive paged tag-and-export runs against
// the case-management service (export). Configuration resolution and
// logging setup live in commandContext so subcommands only wire internal
// packages together.
package main
