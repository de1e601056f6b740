// Package logging assembles structured slog loggers and formatting helpers used
// across casewatch commands and services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so monitor and export code can tag log
// lines with job, unit and case identifiers. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
