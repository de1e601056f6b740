package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	loginPath        = "authenticatedUsers/login"
	logoutPath       = "authenticatedUsers/%s"
	caseListPath     = "inventory/digest"
	caseCountPath    = "cases/%s/count"
	caseSearchPath   = "v2/cases/%s/search"
	caseExportPath   = "cases/%s/export"
	caseTagsPath     = "cases/%s/tags"
	caseItemTagsPath = "cases/%s/itemTags"
	caseClosePath    = "cases/%s/close"
	asyncStatusPath  = "v1/asyncFunctions/%s"
	healthPath       = "system/health"
)

// ErrCaseNotFound is returned by FindCaseID when no case has the name.
var ErrCaseNotFound = errors.New("case not found")

func casePath(format, caseID string) string {
	return fmt.Sprintf(format, url.PathEscape(caseID))
}

// Health reports whether the service answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: healthPath}, nil)
}

// WaitReady polls Health with exponential backoff until it succeeds or
// maxWait elapses.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if maxWait > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(maxWait))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.Health(ctx)
	}, opts...)
	if err != nil {
		return fmt.Errorf("rest service not ready: %w", err)
	}
	return nil
}

type loginRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	LicenseShortName string `json:"licenseShortName"`
	Workers          int    `json:"workers"`
}

type loginResponse struct {
	AuthToken string `json:"authToken"`
}

// Login opens a licensed session and stores its token on the client.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return errors.New("rest login: username and password are required")
	}
	var resp loginResponse
	err := c.Do(ctx, Request{
		Method:      http.MethodPut,
		Path:        loginPath,
		Body:        loginRequest{Username: c.cfg.Username, Password: c.cfg.Password, LicenseShortName: c.cfg.LicenseType, Workers: c.cfg.Workers},
		ContentType: ContentTypeV1,
		Accept:      ContentTypeV1,
		Expect:      []int{http.StatusCreated},
	}, &resp)
	if err != nil {
		return fmt.Errorf("rest login: %w", err)
	}
	if resp.AuthToken == "" {
		return errors.New("rest login: response has no auth token")
	}
	c.SetToken(resp.AuthToken)
	return nil
}

// Logout ends the session and releases its license.
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.Do(ctx, Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf(logoutPath, url.PathEscape(c.cfg.Username)),
	}, nil)
	if err != nil {
		return fmt.Errorf("rest logout: %w", err)
	}
	c.SetToken("")
	return nil
}

// Case is one entry of the case inventory.
type Case struct {
	CaseID string `json:"caseId"`
	Name   string `json:"name"`
	Path   string `json:"path,omitempty"`
}

// ListCases returns the case inventory.
func (c *Client) ListCases(ctx context.Context) ([]Case, error) {
	var cases []Case
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: caseListPath}, &cases); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

// FindCaseID returns the ID of the case called name.
func (c *Client) FindCaseID(ctx context.Context, name string) (string, error) {
	cases, err := c.ListCases(ctx)
	if err != nil {
		return "", err
	}
	for _, kase := range cases {
		if kase.Name == name {
			return kase.CaseID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrCaseNotFound, name)
}

// CloseCase closes a case opened by earlier calls.
func (c *Client) CloseCase(ctx context.Context, caseID string) error {
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   casePath(caseClosePath, caseID),
		Body:   map[string]string{"caseId": caseID},
	}, nil)
	if err != nil {
		return fmt.Errorf("close case: %w", err)
	}
	return nil
}

// Count returns the number of items matching query.
func (c *Client) Count(ctx context.Context, caseID, query string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   casePath(caseCountPath, caseID),
		Body:   map[string]string{"query": query},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return resp.Count, nil
}

type searchRequest struct {
	CaseID     string   `json:"caseId"`
	Query      string   `json:"query"`
	FieldList  []string `json:"fieldList"`
	StartIndex int      `json:"startIndex"`
	Requested  int      `json:"numberOfRecordsRequested"`
}

// PagedSearch returns the GUIDs of one 1-based page of search results.
func (c *Client) PagedSearch(ctx context.Context, caseID, query string, page, pageSize int) ([]string, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("paged search: invalid page %d of size %d", page, pageSize)
	}
	var resp struct {
		ResultList []struct {
			GUID string `json:"guid"`
		} `json:"resultList"`
	}
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   casePath(caseSearchPath, caseID),
		Body: searchRequest{
			CaseID:     caseID,
			Query:      query,
			FieldList:  []string{"guid"},
			StartIndex: (page - 1) * pageSize,
			Requested:  pageSize,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("paged search: %w", err)
	}
	guids := make([]string, 0, len(resp.ResultList))
	for _, item := range resp.ResultList {
		guids = append(guids, item.GUID)
	}
	return guids, nil
}

// TagResult is the response of an item tagging call.
type TagResult struct {
	FailedTags []string `json:"failedTags"`
}

// AddTag adds tags to the items matching query.
func (c *Client) AddTag(ctx context.Context, caseID, query string, tags ...string) (TagResult, error) {
	var resp TagResult
	err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   casePath(caseItemTagsPath, caseID),
		Body:   map[string]any{"tagList": tags, "query": query},
		Expect: []int{http.StatusCreated},
	}, &resp)
	if err != nil {
		return TagResult{}, fmt.Errorf("add tag: %w", err)
	}
	return resp, nil
}

// ListTags returns every tag defined in the case.
func (c *Client) ListTags(ctx context.Context, caseID string) ([]string, error) {
	var tags []string
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: casePath(caseTagsPath, caseID)}, &tags); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// RemoveTags removes tags from the items matching query.
func (c *Client) RemoveTags(ctx context.Context, caseID, query string, tags []string) error {
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Path:   casePath(caseItemTagsPath, caseID),
		Body:   map[string]any{"tagList": tags, "query": query, "operationType": "DELETE"},
	}, nil)
	if err != nil {
		return fmt.Errorf("remove tags: %w", err)
	}
	return nil
}

// DeleteTags deletes tag definitions from the case.
func (c *Client) DeleteTags(ctx context.Context, caseID string, tags []string) error {
	err := c.Do(ctx, Request{
		Method: http.MethodPatch,
		Path:   casePath(caseTagsPath, caseID),
		Body:   map[string]any{"tagList": tags, "operationType": "DELETE"},
	}, nil)
	if err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	return nil
}

// ExportRequest starts a native item export.
type ExportRequest struct {
	ID                 string             `json:"id"`
	Path               string             `json:"path"`
	ExportType         string             `json:"export_type"`
	ProductTypes       []string           `json:"productTypes"`
	ParallelProcessing ParallelProcessing `json:"parallelProcessingSettings"`
	Queries            []string           `json:"queries"`
}

// ParallelProcessing sets the worker count of an export.
type ParallelProcessing struct {
	WorkerCount int `json:"workerCount"`
}

// AsyncFunction identifies a server-side asynchronous operation.
type AsyncFunction struct {
	FunctionKey string `json:"functionKey"`
}

// StartExport starts an asynchronous export and returns its function handle.
func (c *Client) StartExport(ctx context.Context, caseID string, req ExportRequest) (AsyncFunction, error) {
	if req.ExportType == "" {
		req.ExportType = "ITEM"
	}
	if len(req.ProductTypes) == 0 {
		req.ProductTypes = []string{"NATIVE"}
	}
	var fn AsyncFunction
	err := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   casePath(caseExportPath, caseID),
		Body:   req,
	}, &fn)
	if err != nil {
		return AsyncFunction{}, fmt.Errorf("start export: %w", err)
	}
	if fn.FunctionKey == "" {
		return AsyncFunction{}, errors.New("start export: response has no function key")
	}
	return fn, nil
}

// AsyncStatus is the state of an asynchronous function.
type AsyncStatus struct {
	Done                     bool    `json:"done"`
	HasSuccessfullyCompleted bool    `json:"hasSuccessfullyCompleted"`
	Cancelled                bool    `json:"cancelled"`
	Progress                 int     `json:"progress"`
	Total                    int     `json:"total"`
	PercentComplete          float64 `json:"percentComplete"`
	Status                   string  `json:"status,omitempty"`
	ErrorMessage             string  `json:"errorMessage,omitempty"`
}

// AsyncStatus fetches the state of an asynchronous function.
func (c *Client) AsyncStatus(ctx context.Context, functionKey string) (AsyncStatus, error) {
	var status AsyncStatus
	err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf(asyncStatusPath, url.PathEscape(functionKey)),
	}, &status)
	if err != nil {
		return AsyncStatus{}, fmt.Errorf("async status: %w", err)
	}
	return status, nil
}
