package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"casewatch/internal/jobstate"
)

const maxSnapshotBytes = 32 << 20

// HTTPStore polls a status resource with a GET per call. Non-2xx responses and
// undecodable bodies are transient misses. A 404 before the first good
// snapshot means the resource does not exist yet. A 410 means the producer
// gave up and is reported as ErrJobFailed.
type HTTPStore struct {
	url     string
	client  *http.Client
	header  http.Header
	maxFail int

	mu       sync.Mutex
	seen     bool
	failures int
}

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient overrides the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPStore) {
		if client != nil {
			s.client = client
		}
	}
}

// WithHeader adds a request header sent on every poll.
func WithHeader(key, value string) HTTPOption {
	return func(s *HTTPStore) { s.header.Set(key, value) }
}

// WithMaxConsecutiveFailures turns a run of n misses into ErrUnavailable.
// Zero keeps retrying forever.
func WithMaxConsecutiveFailures(n int) HTTPOption {
	return func(s *HTTPStore) { s.maxFail = n }
}

// NewHTTPStore returns a store polling url.
func NewHTTPStore(url string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether the resource answers with a snapshot. Once a good
// snapshot has been read it stays true.
func (s *HTTPStore) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	seen := s.seen
	s.mu.Unlock()
	if seen {
		return true, nil
	}

	status, body, err := s.fetch(ctx)
	if err != nil {
		return false, s.miss(err)
	}
	switch {
	case status == http.StatusGone:
		return false, jobFailed(body)
	case status == http.StatusNotFound:
		return false, nil
	case status >= 200 && status < 300:
		return true, nil
	default:
		return false, s.miss(fmt.Errorf("status resource answered %d", status))
	}
}

// Read fetches and decodes the current snapshot.
func (s *HTTPStore) Read(ctx context.Context) (jobstate.Report, error) {
	status, body, err := s.fetch(ctx)
	if err != nil {
		return jobstate.Report{}, s.miss(err)
	}
	if status == http.StatusGone {
		return jobstate.Report{}, jobFailed(body)
	}
	if status < 200 || status >= 300 {
		return jobstate.Report{}, s.miss(&ParseError{Source: s.url, Err: fmt.Errorf("http status %d", status)})
	}
	report, err := jobstate.Decode(body)
	if err != nil {
		return jobstate.Report{}, s.miss(&ParseError{Source: s.url, Err: err})
	}

	s.mu.Lock()
	s.seen = true
	s.failures = 0
	s.mu.Unlock()
	return report, nil
}

func (s *HTTPStore) fetch(ctx context.Context) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range s.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read status body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// miss records a failed poll and escalates to ErrUnavailable once the
// configured budget is spent. Context errors pass through untouched.
func (s *HTTPStore) miss(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	if s.maxFail > 0 && s.failures >= s.maxFail {
		return fmt.Errorf("%w: %d consecutive failures: %v", ErrUnavailable, s.failures, err)
	}
	return err
}

// jobFailed builds ErrJobFailed from a {"error": "..."} body.
func jobFailed(body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return ErrJobFailed
	}
	return fmt.Errorf("%w: %s", ErrJobFailed, payload.Error)
}
