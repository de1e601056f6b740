package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"casewatch/internal/config"
	"casewatch/internal/logging"
)

// Content types understood by the REST service.
const (
	ContentTypeV1   = "application/vnd.nuix.v1+json"
	ContentTypeV2   = "application/vnd.nuix.v2+json"
	ContentTypeJSON = "application/json"
)

// AuthHeader carries the session token after Login.
const AuthHeader = "nuix-auth-token"

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 4096
)

// ErrNotLoggedIn is returned by calls that need a session before Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Config captures the settings needed to talk to the REST service.
type Config struct {
	// ServiceURL is the service root, for example
	// http://host:8080/nuix-restful-service/svc/.
	ServiceURL        string
	Username          string
	Password          string
	LicenseType       string
	Workers           int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// ConfigFrom builds a client config from the [rest] section.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ServiceURL:        cfg.RESTServiceURL(),
		Username:          cfg.REST.Username,
		Password:          cfg.REST.Password,
		LicenseType:       cfg.REST.LicenseType,
		Workers:           cfg.REST.Workers,
		RequestsPerSecond: cfg.REST.RequestsPerSecond,
		Timeout:           cfg.RESTTimeout(),
	}
}

// StatusError is a response with an unexpected status code.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("rest %s %s: http %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("rest %s %s: http %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// ErrorKind classifies missing resources for exit-code mapping.
func (e *StatusError) ErrorKind() string {
	if e.StatusCode == http.StatusNotFound {
		return "not_found"
	}
	return "rest"
}

// Client talks to the case-management REST service. It is safe for
// concurrent use; requests are paced by a token-bucket limiter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter overrides the request pacing limiter.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "rest")
	}
}

// NewClient constructs a client. A non-positive RequestsPerSecond disables
// pacing.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	serviceURL := strings.TrimSpace(cfg.ServiceURL)
	if serviceURL != "" && !strings.HasSuffix(serviceURL, "/") {
		serviceURL += "/"
	}
	cfg.ServiceURL = serviceURL
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logging.NewNop(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Token returns the current session token, empty before Login.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a session token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// URL resolves a service-relative path with optional query params.
func (c *Client) URL(path string, params Params) string {
	return withQuery(c.cfg.ServiceURL+strings.TrimPrefix(path, "/"), params)
}

// Request describes one REST call.
type Request struct {
	Method string
	Path   string
	Params Params
	// Body is marshalled to JSON when non-nil.
	Body        any
	ContentType string
	Accept      string
	// Expect lists the accepted status codes; empty means 200.
	Expect []int
}

// Do performs req and decodes a JSON response body into out when out is
// non-nil. Unexpected status codes return *StatusError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rest rate limit: %w", err)
	}

	target := c.URL(req.Path, req.Params)
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("rest encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("rest build request: %w", err)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	accept := req.Accept
	if accept == "" {
		accept = ContentTypeJSON
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", accept)
	if token := c.Token(); token != "" {
		httpReq.Header.Set(AuthHeader, token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rest %s %s: %w", req.Method, redact(target), err)
	}
	defer resp.Body.Close()
	c.logger.Debug("rest call",
		logging.String("method", req.Method),
		logging.String("path", req.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if !expected(resp.StatusCode, req.Expect) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     req.Method,
			URL:        redact(target),
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest decode %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func expected(status int, codes []int) bool {
	if len(codes) == 0 {
		return status == http.StatusOK
	}
	for _, code := range codes {
		if status == code {
			return true
		}
	}
	return false
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
