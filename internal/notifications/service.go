package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"casewatch/internal/config"
	"casewatch/internal/logging"
)

const userAgent = "casewatch/0.1.0"

// Service defines the notification surface used by jobs and exports.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobID string, total, failed int, elapsed time.Duration) error
	NotifyJobFailed(ctx context.Context, jobID string, err error) error
	NotifyExportCompleted(ctx context.Context, tag string, count int, subfolder string) error
	NotifyTaggingCompleted(ctx context.Context, date string, tagged, failed, pages int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID string, total, failed int, elapsed time.Duration) error {
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	data := payload{
		title:   "casewatch - Job Complete",
		message: fmt.Sprintf("Job %s classified %d units in %s", logging.ShortID(jobID), total, elapsed),
		tags:    []string{"casewatch", "job", "completed"},
	}
	if failed > 0 {
		data.title = "casewatch - Job Complete (with failures)"
		data.message = fmt.Sprintf("Job %s: %d of %d units failed (%s)", logging.ShortID(jobID), failed, total, elapsed)
		data.tags = []string{"casewatch", "job", "warning"}
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID string, err error) error {
	reason := "unknown"
	if err != nil {
		reason = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "casewatch - Job Failed",
		message:  fmt.Sprintf("Job %s failed: %s", logging.ShortID(jobID), reason),
		tags:     []string{"casewatch", "job", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyExportCompleted(ctx context.Context, tag string, count int, subfolder string) error {
	data := payload{
		title:   "casewatch - Export Complete",
		message: fmt.Sprintf("Exported %d items tagged %s to %s", count, strings.TrimSpace(tag), strings.TrimSpace(subfolder)),
		tags:    []string{"casewatch", "export", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaggingCompleted(ctx context.Context, date string, tagged, failed, pages int) error {
	data := payload{
		title:   "casewatch - Tagging Complete",
		message: fmt.Sprintf("Tagged %d items across %d pages for %s", tagged, pages, strings.TrimSpace(date)),
		tags:    []string{"casewatch", "export", "tagged"},
	}
	if failed > 0 {
		data.message = fmt.Sprintf("%s; %d items failed", data.message, failed)
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "casewatch - Test",
		message:  "Notification system test",
		tags:     []string{"casewatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}

func (noopService) NotifyJobFailed(context.Context, string, error) error                { return nil }
func (noopService) NotifyExportCompleted(context.Context, string, int, string) error    { return nil }
func (noopService) NotifyTaggingCompleted(context.Context, string, int, int, int) error { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
