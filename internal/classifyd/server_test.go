package classifyd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"casewatch/internal/classifier"
	"casewatch/internal/classifyd"
	"casewatch/internal/config"
	"casewatch/internal/jobstate"
	"casewatch/internal/jobstore"
	"casewatch/internal/monitor"
	"casewatch/internal/report"
	"casewatch/internal/statusstore"
	"casewatch/internal/testsupport"
)

var fixedLabels = classifier.Func(func(_ context.Context, unitID string, _ io.Reader) ([]jobstate.Classification, error) {
	if strings.Contains(unitID, "broken") {
		return nil, errors.New("model failed on image")
	}
	return []jobstate.Classification{
		{Label: "weapon", Score: 0.2},
		{Label: "document", Score: 0.75},
		{Label: "vehicle", Score: 0.04},
		{Label: "person", Score: 0.01},
	}, nil
})

func newServer(t *testing.T, opts ...testsupport.ConfigOption) (*classifyd.Server, *httptest.Server, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	srv, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return srv, ts, cfg
}

func uploadBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, field+".jpg")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	_, ts, _ := newServer(t)
	client := classifier.NewHTTPClient(ts.URL)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

func TestPredictRoundTrip(t *testing.T) {
	_, ts, _ := newServer(t)
	client := classifier.NewHTTPClient(ts.URL)

	got, err := client.Classify(context.Background(), "/exports/1f7e-aa.jpg", bytes.NewReader(testsupport.JPEG(t)))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := []string{"document", "weapon", "vehicle"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i, label := range want {
		if got[i].Label != label {
			t.Fatalf("got[%d] = %q, want %q", i, got[i].Label, label)
		}
	}

	_, err = client.Classify(context.Background(), "broken.jpg", bytes.NewReader(testsupport.JPEG(t)))
	var statusErr *classifier.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError || statusErr.Message != "model failed on image" {
		t.Fatalf("broken image err = %v", err)
	}

	_, err = client.Classify(context.Background(), "junk.jpg", strings.NewReader("not a jpeg"))
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("undecodable image err = %v", err)
	}
}

func TestPredictRequiresFileField(t *testing.T) {
	_, ts, _ := newServer(t)
	body, contentType := uploadBody(t, "other-guid", testsupport.JPEG(t))
	resp, err := http.Post(ts.URL+"/predict/guid-1", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload["error"] == "" {
		t.Fatalf("error payload = %v, %v", payload, err)
	}
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, ts, cfg := newServer(t)
	dir := filepath.Join(testsupport.BaseDir(cfg), "export")
	testsupport.WriteImages(t, dir, "a.jpg", "broken.jpg", "c.jpeg", "skip.txt")

	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(`{"dir":"`+dir+`"}`))
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	var created classifyd.JobView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created job: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || created.ID == "" {
		t.Fatalf("create status = %d, job = %+v", resp.StatusCode, created)
	}

	store := statusstore.NewHTTPStore(ts.URL + "/api/jobs/" + created.ID)
	final, err := monitor.WaitForCompletion(context.Background(), store, monitor.Options{
		PollInterval: 10 * time.Millisecond,
		Timeout:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if final.Status.Total != 3 || !final.Status.Done {
		t.Fatalf("final status %+v", final.Status)
	}
	summary, err := report.Aggregate(final)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(summary.Successes) != 2 || len(summary.Failures) != 1 {
		t.Fatalf("summary %+v", summary)
	}
	if !strings.HasSuffix(summary.Failures[0].UnitID, "broken.jpg") {
		t.Fatalf("failure %+v", summary.Failures[0])
	}

	srv.Wait()
	resp, err = http.Get(ts.URL + "/api/jobs?status=done")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	var list classifyd.JobListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Jobs) != 1 || list.Jobs[0].ID != created.ID || list.Jobs[0].Progress != 100 {
		t.Fatalf("job list %+v", list.Jobs)
	}

	resp, err = http.Get(ts.URL + "/api/jobs/" + created.ID + "/summary")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	var remote report.Summary
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	resp.Body.Close()
	if remote.Total != 3 || len(remote.Failures) != 1 {
		t.Fatalf("remote summary %+v", remote)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/jobs/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/api/jobs/" + created.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted job status = %d", resp.StatusCode)
	}
}

func TestFailedJobEndsRemoteWatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	srv, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	ctx := context.Background()

	// One job failed after publishing a partial snapshot, the other before
	// publishing anything.
	partial := testsupport.NewJob(t, store, "/in")
	snapshot, _ := jobstate.NewReport(3).WithOutcome("a.jpg", jobstate.Success())
	if err := store.Writer(partial.ID).Write(ctx, snapshot); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.SetStatus(ctx, partial.ID, jobstore.StatusFailed, "classifier crashed"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	unstarted := testsupport.NewJob(t, store, "/in")
	if _, err := store.FailInterrupted(ctx); err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}

	client := classifyd.NewClient(ts.URL)
	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "partial snapshot", id: partial.ID, want: "classifier crashed"},
		{name: "no snapshot", id: unstarted.ID, want: "interrupted by service restart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			_, err := monitor.WaitForCompletion(waitCtx, client.JobStore(tt.id), monitor.Options{
				PollInterval: 10 * time.Millisecond,
			})
			if !errors.Is(err, monitor.ErrJobAborted) || !errors.Is(err, statusstore.ErrJobFailed) {
				t.Fatalf("err = %v, want ErrJobAborted wrapping ErrJobFailed", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want message %q", err, tt.want)
			}
		})
	}
}

func TestRequestIDIsEchoedAndLogged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	var logs syncBuffer
	srv, err := classifyd.New(cfg, fixedLabels, store, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		ts.Close()
		srv.Stop()
	}()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}

	dir := filepath.Join(testsupport.BaseDir(cfg), "export")
	testsupport.WriteImages(t, dir, "a.jpg")
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/jobs", strings.NewReader(`{"dir":"`+dir+`"}`))
	req.Header.Set("X-Request-ID", "req-7")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-7" {
		t.Fatalf("X-Request-ID = %q, want req-7", got)
	}
	srv.Wait()
	if !strings.Contains(logs.String(), "correlation_id=req-7") {
		t.Fatalf("job log line missing correlation id:\n%s", logs.String())
	}
}

// syncBuffer is a bytes.Buffer safe for the server's concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCreateJobRejectsMissingDir(t *testing.T) {
	_, ts, cfg := newServer(t)
	body := `{"dir":"` + filepath.Join(testsupport.BaseDir(cfg), "missing") + `"}`
	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Service.APIToken = "s3cret"
	store := testsupport.MustOpenStore(t, cfg)
	srv, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not need a token, got %d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	_, ts, _ := newServer(t)
	client := classifier.NewHTTPClient(ts.URL)
	if _, err := client.Classify(context.Background(), "m.jpg", bytes.NewReader(testsupport.JPEG(t))); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `casewatch_predictions_total{result="success"} 1`) {
		t.Fatalf("metrics missing prediction counter:\n%s", body)
	}
}

func TestStartHoldsSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()
	if first.Addr() == "" {
		t.Fatal("expected listening address")
	}

	second, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, classifyd.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartFailsInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	stale := testsupport.NewJob(t, store, "/old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, err := classifyd.New(cfg, fixedLabels, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	job, err := store.Get(ctx, stale.ID)
	if err != nil || job.Status != jobstore.StatusFailed {
		t.Fatalf("stale job = %+v, %v", job, err)
	}
}
