package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"casewatch/internal/logs"
	"casewatch/internal/testsupport"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	want := filepath.Join(cfg.Paths.StateDir, "logs", "classifyd.log")
	if got := logs.Path(cfg, "classifyd"); got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
}

func TestLast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casewatch.log")
	writeLog(t, path, strings.Join([]string{
		`INFO batch[0f8fad5b]: job started total=3`,
		`INFO batch: job started job_id=a total=2`,
		`INFO batch: job started job_id=b total=1`,
		`WARN batch: unit failed job_id=a unit_id=x.jpg`,
		`{"level":"INFO","msg":"job done","job_id":"a"}`,
	}, "\n")+"\n")

	tests := []struct {
		name   string
		limit  int
		filter logs.Filter
		want   []string
	}{
		{name: "last two", limit: 2, want: []string{
			`WARN batch: unit failed job_id=a unit_id=x.jpg`,
			`{"level":"INFO","msg":"job done","job_id":"a"}`,
		}},
		{name: "by job", limit: 10, filter: logs.Filter{JobID: "b"}, want: []string{
			`INFO batch: job started job_id=b total=1`,
		}},
		{name: "by job and level", limit: 10, filter: logs.Filter{JobID: "a", Level: "warn"}, want: []string{
			`WARN batch: unit failed job_id=a unit_id=x.jpg`,
		}},
		{name: "console prefix", limit: 10, filter: logs.Filter{JobID: "0f8fad5b-d9cb-469f-a165-70867728950e"}, want: []string{
			`INFO batch[0f8fad5b]: job started total=3`,
		}},
		{name: "json form", limit: 1, filter: logs.Filter{JobID: "a"}, want: []string{
			`{"level":"INFO","msg":"job done","job_id":"a"}`,
		}},
		{name: "zero limit", limit: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, offset, err := logs.Last(path, tt.limit, tt.filter)
			if err != nil {
				t.Fatalf("Last: %v", err)
			}
			if strings.Join(lines, "\n") != strings.Join(tt.want, "\n") {
				t.Fatalf("lines = %#v, want %#v", lines, tt.want)
			}
			info, _ := os.Stat(path)
			if offset != info.Size() {
				t.Fatalf("offset = %d, want %d", offset, info.Size())
			}
		})
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "none.log"), 5, logs.Filter{})
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("Last = %v, %d, %v", lines, offset, err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifyd.log")
	writeLog(t, path, "INFO old job_id=a\n")
	_, offset, err := logs.Last(path, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, logs.Filter{JobID: "a"}, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("INFO new job_id=a\nINFO other job_id=b\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "INFO new job_id=a" {
		t.Fatalf("followed lines = %#v", got)
	}
}
