package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"casewatch/internal/jobstate"
)

const defaultHTTPTimeout = 60 * time.Second

// StatusError is a non-2xx answer from the classifier service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("classifier: http %d", e.StatusCode)
	}
	return fmt.Sprintf("classifier: http %d: %s", e.StatusCode, e.Message)
}

// HTTPClient calls a classification service exposing POST /predict/{key} and
// GET /health.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	topK       int
}

// HTTPOption customizes the client.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTopK limits the number of labels kept per image.
func WithTopK(k int) HTTPOption {
	return func(c *HTTPClient) { c.topK = k }
}

// NewHTTPClient returns a client for the service rooted at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		topK:       jobstate.MaxClassifications,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictResponse struct {
	Results map[string]json.RawMessage `json:"results"`
	Error   string                     `json:"error"`
}

// Classify uploads the image as a multipart form file named after the unit
// key and parses the labels the service returns for that key.
func (c *HTTPClient) Classify(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error) {
	key := UnitKey(unitID)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(key, key+".jpg")
	if err != nil {
		return nil, fmt.Errorf("classifier: build upload: %w", err)
	}
	n, err := io.Copy(part, image)
	if err != nil {
		return nil, fmt.Errorf("classifier: read image: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyImage
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("classifier: build upload: %w", err)
	}

	endpoint := c.baseURL + "/predict/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("classifier: read response: %w", err)
	}
	var payload predictResponse
	decodeErr := json.Unmarshal(raw, &payload)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(payload.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", decodeErr)
	}
	if payload.Error != "" {
		return nil, errors.New(payload.Error)
	}
	entries, ok := payload.Results[key]
	if !ok {
		return nil, fmt.Errorf("classifier: response has no results for %q", key)
	}
	outcome, err := jobstate.DecodeOutcome(entries)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if outcome.Failed() {
		return nil, errors.New(outcome.Message())
	}
	return TopK(outcome.Classifications(), c.topK), nil
}

// Health checks GET /health answers {"success": true}.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("classifier health: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("classifier health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	var payload struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("classifier health: decode: %w", err)
	}
	if !payload.Success {
		return errors.New("classifier health: service reported failure")
	}
	return nil
}
