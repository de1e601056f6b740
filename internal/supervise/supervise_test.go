package supervise_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"casewatch/internal/batch"
	"casewatch/internal/classifier"
	"casewatch/internal/jobstate"
	"casewatch/internal/monitor"
	"casewatch/internal/services"
	"casewatch/internal/statusstore"
	"casewatch/internal/supervise"
	"casewatch/internal/testsupport"
)

const helperEnv = "CASEWATCH_SUPERVISE_HELPER"

// TestHelperProcess is the producer spawned by the tests below.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	dir := os.Getenv("CASEWATCH_HELPER_DIR")
	status := os.Getenv("CASEWATCH_HELPER_STATUS")
	os.Exit(runHelper(mode, dir, status))
}

func runHelper(mode, dir, status string) int {
	fmt.Println("helper starting")
	switch mode {
	case "crash":
		fmt.Fprintln(os.Stderr, "model failed to load")
		return 3
	case "hang":
		time.Sleep(time.Minute)
		return 0
	}
	w, err := statusstore.NewFileWriter(status)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer w.Close()
	cls := classifier.Func(func(ctx context.Context, unitID string, _ io.Reader) ([]jobstate.Classification, error) {
		time.Sleep(20 * time.Millisecond)
		return []jobstate.Classification{{Label: "document", Score: 0.9}}, nil
	})
	if _, err := batch.Run(context.Background(), batch.NewFolderSource(dir, nil), cls, w, batch.Options{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperOptions(t *testing.T, mode string, inputs []string) supervise.Options {
	t.Helper()
	work := filepath.Join(t.TempDir(), "work")
	status := filepath.Join(work, "inference.json")
	return supervise.Options{
		Inputs:     inputs,
		WorkDir:    work,
		StatusPath: status,
		Command:    []string{os.Args[0], "-test.run=^TestHelperProcess$"},
		Env: []string{
			helperEnv + "=" + mode,
			"CASEWATCH_HELPER_DIR=" + work,
			"CASEWATCH_HELPER_STATUS=" + status,
		},
		Monitor: monitor.Options{PollInterval: 20 * time.Millisecond, Timeout: 30 * time.Second},
	}
}

func TestRunSupervisesProducer(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg", "b.jpg", "c.jpg")
	opts := helperOptions(t, "ok", inputs)
	opts.Cleanup = true

	res, err := supervise.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Staged) != 3 {
		t.Fatalf("staged = %v", res.Staged)
	}
	if !res.Summary.Done || len(res.Summary.Successes) != 3 || len(res.Summary.Failures) != 0 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	entries, err := os.ReadDir(opts.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work dir not emptied: %d entries", len(entries))
	}
}

func TestRunProducerCrash(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	_, err := supervise.Run(context.Background(), helperOptions(t, "crash", inputs))
	if !errors.Is(err, monitor.ErrJobAborted) {
		t.Fatalf("err = %v, want ErrJobAborted", err)
	}
	if services.ExitCode(err) != services.ExitAborted {
		t.Fatalf("exit code = %d", services.ExitCode(err))
	}
}

func TestRunTimeoutLeavesProducerRunning(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	opts := helperOptions(t, "hang", inputs)
	opts.Cleanup = true
	opts.Monitor.Timeout = 300 * time.Millisecond

	res, err := supervise.Run(context.Background(), opts)
	if !errors.Is(err, monitor.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !res.Detached || res.PID <= 0 {
		t.Fatalf("result = %+v, want detached producer", res)
	}
	t.Cleanup(func() { _ = unix.Kill(-res.PID, unix.SIGKILL) })
	if err := unix.Kill(res.PID, 0); err != nil {
		t.Fatalf("producer %d not running after timeout: %v", res.PID, err)
	}
	if _, err := os.Stat(res.Staged[0]); err != nil {
		t.Fatalf("staged input removed under a running producer: %v", err)
	}
}

func TestRunCancelStopsProducer(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	opts := helperOptions(t, "hang", inputs)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	started := time.Now()
	res, err := supervise.Run(ctx, opts)
	if err == nil || res.Detached {
		t.Fatalf("Run = %+v, %v; want cancelled run", res, err)
	}
	if elapsed := time.Since(started); elapsed > 20*time.Second {
		t.Fatalf("Run took %v; producer was not stopped", elapsed)
	}
	if err := unix.Kill(res.PID, 0); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("producer %d still present: %v", res.PID, err)
	}
}

func TestRunRejectsExistingStatusPath(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	opts := helperOptions(t, "ok", inputs)
	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stale := []byte(`{"status":{"done":true,"progress":100,"current_item":0,"total":0,"errors":[]},"results":{}}`)
	if err := os.WriteFile(opts.StatusPath, stale, 0o644); err != nil {
		t.Fatalf("write stale snapshot: %v", err)
	}

	_, err := supervise.Run(context.Background(), opts)
	if services.ExitCode(err) != services.ExitConfiguration {
		t.Fatalf("err = %v, want configuration error", err)
	}
	data, err := os.ReadFile(opts.StatusPath)
	if err != nil || string(data) != string(stale) {
		t.Fatalf("existing snapshot was modified: %q, %v", data, err)
	}
}

func TestRunLogsProducerOutput(t *testing.T) {
	inputs := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	opts := helperOptions(t, "crash", inputs)
	var buf bytes.Buffer
	opts.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := supervise.Run(context.Background(), opts); !errors.Is(err, monitor.ErrJobAborted) {
		t.Fatalf("err = %v, want ErrJobAborted", err)
	}
	if !strings.Contains(buf.String(), "model failed to load") {
		t.Fatalf("producer stderr not logged:\n%s", buf.String())
	}
}

func TestStageRejectsDuplicateNames(t *testing.T) {
	first := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	second := testsupport.WriteImages(t, t.TempDir(), "a.jpg")
	_, err := supervise.Stage(t.TempDir(), append(first, second...))
	if services.ExitCode(err) != services.ExitUsage {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestRunRequiresCommand(t *testing.T) {
	_, err := supervise.Run(context.Background(), supervise.Options{StatusPath: "x"})
	if services.ExitCode(err) != services.ExitConfiguration {
		t.Fatalf("err = %v, want configuration error", err)
	}
}
