package statusstore

import (
	"context"
	"errors"
	"fmt"

	"casewatch/internal/jobstate"
)

// ErrUnavailable marks a store the caller has decided to stop waiting for.
// Transient misses are reported with other errors and absorbed by the monitor;
// only this sentinel ends a watch.
var ErrUnavailable = errors.New("status store unavailable")

// ErrJobFailed marks a producer that reported a terminal failure through the
// store instead of a done snapshot. Like ErrUnavailable it ends a watch.
var ErrJobFailed = errors.New("job failed")

// ErrWriterBusy is returned when another producer already owns the snapshot.
var ErrWriterBusy = errors.New("status snapshot already has a writer")

// Store is the consumer side of a status snapshot. Implementations never
// create, delete or lock the underlying resource.
type Store interface {
	Exists(ctx context.Context) (bool, error)
	Read(ctx context.Context) (jobstate.Report, error)
}

// Writer is the producer side of a status snapshot. Each call replaces the
// previous snapshot in full.
type Writer interface {
	Write(ctx context.Context, report jobstate.Report) error
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(ctx context.Context, report jobstate.Report) error

// Write calls f(ctx, report).
func (f WriterFunc) Write(ctx context.Context, report jobstate.Report) error {
	return f(ctx, report)
}

// ParseError reports a snapshot that is absent, empty or malformed. It is an
// expected, transient condition while a producer is starting or mid-write.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("parse status snapshot: %v", e.Err)
	}
	return fmt.Sprintf("parse status snapshot %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err carries a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
