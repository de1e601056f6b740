package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"casewatch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "classifier", "predict", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"classifier", "predict", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err)
	}
}

type kindError string

func (k kindError) Error() string     { return "kind " + string(k) }
func (k kindError) ErrorKind() string { return string(k) }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, services.ExitOK},
		{"validation", services.Wrap(services.ErrValidation, "cli", "args", "bad", nil), services.ExitUsage},
		{"configuration", services.Wrap(services.ErrConfiguration, "config", "load", "", nil), services.ExitConfiguration},
		{"not found", fmt.Errorf("lookup: %w", services.ErrNotFound), services.ExitConfiguration},
		{"timeout", services.Wrap(services.ErrTimeout, "monitor", "wait", "", nil), services.ExitTimeout},
		{"aborted", services.ErrAborted, services.ExitAborted},
		{"classifier kind", fmt.Errorf("wrap: %w", kindError("timeout")), services.ExitTimeout},
		{"units failed", kindError("units_failed"), services.ExitUnitsFailed},
		{"units failed error", fmt.Errorf("job: %w", &services.UnitsFailedError{Failed: 1, Total: 3}), services.ExitUnitsFailed},
		{"generic", errors.New("boom"), services.ExitFailure},
		{"transient", services.Wrap(services.ErrTransient, "rest", "count", "", nil), services.ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
