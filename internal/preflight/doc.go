// Package preflight provides readiness checks for the services and paths that
// casewatch depends on.
//
// These checks run in two contexts:
//   - "casewatch run" and "casewatch classify" call RunAll before starting a
//     job so a missing classifier fails fast instead of failing every unit.
//   - The CLI "casewatch status" command renders every check.
//
// Checks for services that are not configured report "not configured".
package preflight
