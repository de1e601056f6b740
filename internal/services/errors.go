package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrAborted       = errors.New("aborted")
	ErrTransient     = errors.New("transient failure")
)

// ErrorClassifier allows errors to declare their classification without
// wrapping one of the markers above.
type ErrorClassifier interface {
	// ErrorKind returns "validation", "configuration", "not_found", "timeout",
	// "aborted" or any other string for a generic failure.
	ErrorKind() string
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// UnitsFailedError reports a job that finished with some failed units.
type UnitsFailedError struct {
	Failed int
	Total  int
}

func (e *UnitsFailedError) Error() string {
	return fmt.Sprintf("%d of %d units failed", e.Failed, e.Total)
}

// ErrorKind marks the error for exit-code mapping.
func (e *UnitsFailedError) ErrorKind() string {
	return "units_failed"
}

// Exit codes returned by the casewatch commands.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitUsage         = 2
	ExitTimeout       = 3
	ExitAborted       = 4
	ExitUnitsFailed   = 5
	ExitConfiguration = 78
)

// Kind returns the classification of err: the ErrorKind of the first
// ErrorClassifier in its chain, else the marker it wraps, else "failure".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAborted):
		return "aborted"
	}
	return "failure"
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch Kind(err) {
	case "":
		return ExitOK
	case "validation":
		return ExitUsage
	case "configuration", "not_found":
		return ExitConfiguration
	case "timeout":
		return ExitTimeout
	case "aborted":
		return ExitAborted
	case "units_failed":
		return ExitUnitsFailed
	default:
		return ExitFailure
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
