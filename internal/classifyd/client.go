package classifyd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"casewatch/internal/report"
	"casewatch/internal/statusstore"
)

const defaultClientTimeout = 30 * time.Second

// APIError is a non-2xx response from the jobs API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classifyd: http %d: %s", e.StatusCode, e.Message)
}

// ErrorKind maps missing jobs to not_found for exit codes.
func (e *APIError) ErrorKind() string {
	switch e.StatusCode {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "configuration"
	}
	return "classifyd"
}

// Client talks to the jobs API of a running classifyd.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithClientHTTPClient overrides the default HTTP client.
func WithClientHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sends token as a bearer credential.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// NewClient returns a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJob starts a job classifying dir on the server.
func (c *Client) CreateJob(ctx context.Context, dir string) (JobView, error) {
	var view JobView
	err := c.do(ctx, http.MethodPost, "/api/jobs", CreateJobRequest{Dir: dir}, &view)
	return view, err
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]JobView, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		q := url.Values{}
		for _, s := range statuses {
			q.Add("status", s)
		}
		path += "?" + q.Encode()
	}
	var resp JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Summary fetches the aggregated results of a job.
func (c *Client) Summary(ctx context.Context, id string) (report.Summary, error) {
	var summary report.Summary
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/summary", nil, &summary)
	return summary, err
}

// DeleteJob removes a finished job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// JobStore returns a status store polling the job's snapshot.
func (c *Client) JobStore(id string, opts ...statusstore.HTTPOption) *statusstore.HTTPStore {
	all := []statusstore.HTTPOption{statusstore.WithHTTPClient(c.httpClient)}
	if c.token != "" {
		all = append(all, statusstore.WithHeader("Authorization", "Bearer "+c.token))
	}
	all = append(all, opts...)
	return statusstore.NewHTTPStore(c.baseURL+"/api/jobs/"+url.PathEscape(id), all...)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("classifyd %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the jobs API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
