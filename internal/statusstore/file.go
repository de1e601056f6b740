package statusstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"casewatch/internal/fileutil"
	"casewatch/internal/jobstate"
)

// FileStore reads a snapshot file written by a local producer.
type FileStore struct {
	path string
}

// NewFileStore returns a store reading path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the snapshot file has been created.
func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat status file: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("status path %s is a directory", s.path)
	}
	return true, nil
}

// Read returns the last complete snapshot. An absent, empty or torn file
// yields a *ParseError.
func (s *FileStore) Read(ctx context.Context) (jobstate.Report, error) {
	if err := ctx.Err(); err != nil {
		return jobstate.Report{}, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jobstate.Report{}, &ParseError{Source: s.path, Err: err}
		}
		return jobstate.Report{}, fmt.Errorf("read status file: %w", err)
	}
	report, err := jobstate.Decode(data)
	if err != nil {
		return jobstate.Report{}, &ParseError{Source: s.path, Err: err}
	}
	return report, nil
}

// WriterOption configures a FileWriter.
type WriterOption func(*FileWriter)

// WithInPlaceWrites makes the writer truncate and rewrite the snapshot
// instead of renaming a temporary file into place.
func WithInPlaceWrites() WriterOption {
	return func(w *FileWriter) { w.inPlace = true }
}

// FileWriter is the single producer of a snapshot file. It holds an advisory
// lock on "<path>.lock" for its lifetime so a second producer fails fast.
type FileWriter struct {
	mu      sync.Mutex
	path    string
	mode    os.FileMode
	inPlace bool
	lock    *flock.Flock
	closed  bool
}

// NewFileWriter claims the snapshot at path. It returns ErrWriterBusy when
// another writer holds the lock.
func NewFileWriter(path string, opts ...WriterOption) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}
	w := &FileWriter{
		path: path,
		mode: 0o644,
		lock: flock.New(path + ".lock"),
	}
	for _, opt := range opts {
		opt(w)
	}
	ok, err := w.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire status lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWriterBusy, path)
	}
	return w, nil
}

// Path returns the snapshot file location.
func (w *FileWriter) Path() string {
	return w.path
}

// Write encodes report and replaces the snapshot.
func (w *FileWriter) Write(ctx context.Context, report jobstate.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jobstate.Encode(report)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("status writer closed")
	}
	if w.inPlace {
		err = fileutil.WriteFileInPlace(w.path, data, w.mode)
	} else {
		err = fileutil.WriteFileAtomic(w.path, data, w.mode)
	}
	if err != nil {
		return fmt.Errorf("write status snapshot: %w", err)
	}
	return nil
}

// Close releases the writer lock. The snapshot file is left in place for
// consumers.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.lock.Unlock()
}
