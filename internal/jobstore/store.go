package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"casewatch/internal/config"
	"casewatch/internal/jobstate"
	"casewatch/internal/statusstore"
)

// Status is the run state of a job, independent of its snapshot.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one persisted batch job.
type Job struct {
	ID           string
	SourceDir    string
	Status       Status
	ErrorMessage string
	Total        int
	CurrentItem  int
	Progress     int
	SnapshotJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Report decodes the job's latest snapshot. A job that has not written one
// yet returns an empty report for zero units.
func (j *Job) Report() (jobstate.Report, error) {
	if j == nil || strings.TrimSpace(j.SnapshotJSON) == "" {
		return jobstate.NewReport(0), nil
	}
	return jobstate.Decode([]byte(j.SnapshotJSON))
}

// FailureMessage returns the recorded error of a failed job, and false for
// any other status.
func (j *Job) FailureMessage() (string, bool) {
	if j == nil || j.Status != StatusFailed {
		return "", false
	}
	if msg := strings.TrimSpace(j.ErrorMessage); msg != "" {
		return msg, true
	}
	return "job failed", true
}

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, source_dir, status, error_message, total, current_item, progress, snapshot_json, created_at, updated_at"

// Open initializes or connects to the job database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.Service.DBPath)
}

// OpenPath opens the database at path.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: filepath.Clean(path)}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a pending job for sourceDir with a fresh UUID.
func (s *Store) Create(ctx context.Context, sourceDir string) (*Job, error) {
	id := uuid.NewString()
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, source_dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, sourceDir, StatusPending, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a job by ID. A missing job returns nil without error.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Save overwrites the job's snapshot with report. The job moves to running
// unless it is already in a terminal state.
func (s *Store) Save(ctx context.Context, id string, report jobstate.Report) error {
	data, err := jobstate.Encode(report)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET snapshot_json = ?, total = ?, current_item = ?, progress = ?, updated_at = ?,
             status = CASE WHEN status = ? THEN ? ELSE status END
         WHERE id = ?`,
		string(data),
		report.Status.Total,
		report.Status.CurrentItem,
		report.Status.Progress,
		formatTime(time.Now()),
		StatusPending, StatusRunning,
		id,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return requireRow(res, id)
}

// SetStatus records the run status of a job and an optional error message.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(message), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return requireRow(res, id)
}

// FailInterrupted marks jobs left pending or running by a previous process as
// failed and returns how many were updated.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE status IN (?, ?)`,
		StatusFailed, "interrupted by service restart", formatTime(time.Now()), StatusPending, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Writer adapts a job row to a status writer; each Write replaces the row's
// snapshot.
func (s *Store) Writer(id string) statusstore.Writer {
	return statusstore.WriterFunc(func(ctx context.Context, report jobstate.Report) error {
		return s.Save(ctx, id, report)
	})
}

// SnapshotStore exposes a job row as a read-only status store.
func (s *Store) SnapshotStore(id string) statusstore.Store {
	return &rowStore{store: s, id: id}
}

type rowStore struct {
	store *Store
	id    string
}

func (r *rowStore) Exists(ctx context.Context) (bool, error) {
	job, err := r.store.Get(ctx, r.id)
	if err != nil {
		return false, err
	}
	if msg, failed := job.FailureMessage(); failed {
		return false, fmt.Errorf("%w: %s", statusstore.ErrJobFailed, msg)
	}
	return job != nil && job.SnapshotJSON != "", nil
}

func (r *rowStore) Read(ctx context.Context) (jobstate.Report, error) {
	job, err := r.store.Get(ctx, r.id)
	if err != nil {
		return jobstate.Report{}, err
	}
	if msg, failed := job.FailureMessage(); failed {
		return jobstate.Report{}, fmt.Errorf("%w: %s", statusstore.ErrJobFailed, msg)
	}
	if job == nil || job.SnapshotJSON == "" {
		return jobstate.Report{}, &statusstore.ParseError{Source: "job " + r.id, Err: errors.New("no snapshot")}
	}
	report, err := job.Report()
	if err != nil {
		return jobstate.Report{}, &statusstore.ParseError{Source: "job " + r.id, Err: err}
	}
	return report, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// ErrNotFound is returned when an update targets a job that does not exist.
var ErrNotFound = errors.New("job not found")

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
