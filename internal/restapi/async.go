package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"casewatch/internal/jobstate"
	"casewatch/internal/statusstore"
)

// AsyncStore exposes a server-side asynchronous function as a status store so
// the monitor can wait on it. The function is reported as a job of one unit,
// keyed by its function key; progress follows the server's percentage.
type AsyncStore struct {
	client  *Client
	key     string
	maxFail int

	mu       sync.Mutex
	failures int
	last     AsyncStatus
}

// AsyncOption configures an AsyncStore.
type AsyncOption func(*AsyncStore)

// WithAsyncMaxFailures turns a run of n failed status calls into
// statusstore.ErrUnavailable. Zero keeps retrying forever.
func WithAsyncMaxFailures(n int) AsyncOption {
	return func(s *AsyncStore) { s.maxFail = n }
}

// NewAsyncStore returns a store tracking functionKey.
func NewAsyncStore(client *Client, functionKey string, opts ...AsyncOption) *AsyncStore {
	s := &AsyncStore{client: client, key: functionKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the tracked function key.
func (s *AsyncStore) Key() string {
	return s.key
}

// Last returns the most recent status fetched from the server.
func (s *AsyncStore) Last() AsyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Exists reports false while the server does not know the function yet.
func (s *AsyncStore) Exists(ctx context.Context) (bool, error) {
	_, err := s.fetch(ctx)
	if err == nil {
		return true, nil
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// Read fetches the function state and converts it into a snapshot.
func (s *AsyncStore) Read(ctx context.Context) (jobstate.Report, error) {
	status, err := s.fetch(ctx)
	if err != nil {
		return jobstate.Report{}, err
	}
	return AsyncReport(s.key, status)
}

func (s *AsyncStore) fetch(ctx context.Context) (AsyncStatus, error) {
	status, err := s.client.AsyncStatus(ctx, s.key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return AsyncStatus{}, err
		}
		s.failures++
		if s.maxFail > 0 && s.failures >= s.maxFail {
			return AsyncStatus{}, fmt.Errorf("%w: %d consecutive failures: %w", statusstore.ErrUnavailable, s.failures, err)
		}
		return AsyncStatus{}, err
	}
	s.failures = 0
	s.last = status
	return status, nil
}

// AsyncReport converts a function status into a one-unit snapshot. A function
// that finished without success is recorded as a failed unit.
func AsyncReport(key string, status AsyncStatus) (jobstate.Report, error) {
	report := jobstate.NewReport(1)
	if !status.Done {
		report.Status.Progress = asyncPercent(status)
		return report, nil
	}

	outcome := jobstate.Success()
	if !status.HasSuccessfullyCompleted || status.Cancelled {
		msg := status.ErrorMessage
		switch {
		case msg != "":
		case status.Cancelled:
			msg = "function was cancelled"
		default:
			msg = "function did not complete successfully"
		}
		outcome = jobstate.Failure(msg)
	}
	report, err := report.WithOutcome(key, outcome)
	if err != nil {
		return jobstate.Report{}, err
	}
	return report.WithDone()
}

func asyncPercent(status AsyncStatus) int {
	pct := jobstate.PercentOf(status.Progress, status.Total)
	if status.PercentComplete > 0 {
		pct = int(status.PercentComplete)
	}
	return min(max(pct, 0), 100)
}
