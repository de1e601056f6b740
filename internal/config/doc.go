// Package config loads, normalizes, and validates casewatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for the
// case-management credentials and the classifier service URL. The Config type
// centralizes every knob the producer, the monitor, the classifier service and
// the REST workflows need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, positive intervals, and clear validation errors.
package config
