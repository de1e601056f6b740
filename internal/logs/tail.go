package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"casewatch/internal/config"
	"casewatch/internal/logging"
)

const (
	maxLineBytes   = 1024 * 1024
	followInterval = 250 * time.Millisecond
)

// Path returns the log file written by the named binary ("casewatch" or
// "classifyd").
func Path(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Paths.StateDir, "logs", name+".log")
}

// Filter selects log lines. Empty fields match everything.
type Filter struct {
	JobID  string
	CaseID string
	Level  string
}

// Match reports whether line passes the filter. Lines are matched on the
// key=value or "key":"value" forms produced by the console and JSON handlers;
// a job id also matches the console's "component[short-id]:" prefix.
func (f Filter) Match(line string) bool {
	if f.JobID != "" && !hasField(line, "job_id", f.JobID) && !strings.Contains(line, "["+logging.ShortID(f.JobID)+"]: ") {
		return false
	}
	if f.CaseID != "" && !hasField(line, "case_id", f.CaseID) {
		return false
	}
	if f.Level != "" && !strings.Contains(strings.ToUpper(line), strings.ToUpper(f.Level)) {
		return false
	}
	return true
}

func hasField(line, key, value string) bool {
	return strings.Contains(line, key+"="+value) || strings.Contains(line, `"`+key+`":"`+value+`"`)
}

// Last returns up to limit matching lines from the end of path and the
// offset just past them. A missing file yields no lines and offset 0.
func Last(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var ring []string
	if limit > 0 {
		ring = make([]string, 0, limit)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if limit <= 0 || !filter.Match(line) {
			continue
		}
		if len(ring) == limit {
			ring = append(ring[1:], line)
			continue
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}
	return ring, offset, nil
}

// Follow emits matching lines appended to path after offset until ctx is
// done, then reads once more so nothing written before that is missed. A
// truncated file is read again from the start.
func Follow(ctx context.Context, path string, offset int64, filter Filter, emit func(string)) error {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()
	for {
		next, err := readFrom(path, offset, filter, emit)
		if err != nil {
			return err
		}
		offset = next
		select {
		case <-ctx.Done():
			_, err := readFrom(path, offset, filter, emit)
			return err
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, filter Filter, emit func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A partial trailing line is left for the next read.
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if trimmed := strings.TrimRight(line, "\r\n"); filter.Match(trimmed) {
			emit(trimmed)
		}
	}
}
