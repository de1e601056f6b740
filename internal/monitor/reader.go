package monitor

import (
	"context"
	"errors"
	"log/slog"

	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
	"casewatch/internal/statusstore"
)

// Reader reads a status store, absorbing parse failures and transient errors.
type Reader struct {
	store  statusstore.Store
	logger *slog.Logger
}

// NewReader wraps store. A nil logger discards diagnostics.
func NewReader(store statusstore.Store, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reader{store: store, logger: logger}
}

// TryRead returns the current snapshot, or false when none could be read this
// cycle. It never returns an error and never retries.
func (r *Reader) TryRead(ctx context.Context) (jobstate.Report, bool) {
	report, ok, _ := r.read(ctx)
	return report, ok
}

// read is TryRead plus the errors the loop must not absorb: a store that has
// declared itself unavailable or a producer that reported failure.
func (r *Reader) read(ctx context.Context) (jobstate.Report, bool, error) {
	report, err := r.store.Read(ctx)
	if err == nil {
		return report, true, nil
	}
	if terminal(err) {
		return jobstate.Report{}, false, err
	}
	if statusstore.IsParseError(err) {
		r.logger.Debug("status snapshot not readable yet", logging.Error(err))
	} else {
		r.logger.Debug("status read failed", logging.Error(err))
	}
	return jobstate.Report{}, false, nil
}

func (r *Reader) exists(ctx context.Context) (bool, error) {
	ok, err := r.store.Exists(ctx)
	if err == nil {
		return ok, nil
	}
	if terminal(err) {
		return false, err
	}
	r.logger.Debug("status existence check failed", logging.Error(err))
	return false, nil
}

func terminal(err error) bool {
	return errors.Is(err, statusstore.ErrUnavailable) || errors.Is(err, statusstore.ErrJobFailed)
}
