package batch

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Unit is one input to classify. Open is called at most once per run.
type Unit struct {
	ID   string
	Open func() (io.ReadCloser, error)
}

// Source enumerates the units of a job. Count must agree with the number of
// units Units yields. Units may only be restarted from the beginning.
type Source interface {
	Count(ctx context.Context) (int, error)
	Units(ctx context.Context) iter.Seq[Unit]
}

// FolderSource lists image files directly inside a directory, sorted by name.
// The unit ID is the file path. The directory is listed once, on the first
// Count or Units call; files added or removed later are not seen.
type FolderSource struct {
	dir        string
	extensions []string

	mu      sync.Mutex
	listed  bool
	paths   []string
	listErr error
}

// NewFolderSource lists dir for files whose lowercase extension is in
// extensions. An empty extension list selects .jpg and .jpeg.
func NewFolderSource(dir string, extensions []string) *FolderSource {
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg"}
	}
	return &FolderSource{dir: dir, extensions: exts}
}

// Dir returns the listed directory.
func (s *FolderSource) Dir() string {
	return s.dir
}

// Count returns the number of matching files, or the error that prevented
// listing the directory.
func (s *FolderSource) Count(ctx context.Context) (int, error) {
	paths, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// Units yields the matching files in sorted order. It yields nothing when the
// directory could not be listed; Count reports why. Files are opened only
// when a unit is processed.
func (s *FolderSource) Units(ctx context.Context) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		paths, err := s.snapshot(ctx)
		if err != nil {
			return
		}
		for _, path := range paths {
			if ctx.Err() != nil {
				return
			}
			p := path
			unit := Unit{ID: p, Open: func() (io.ReadCloser, error) { return os.Open(p) }}
			if !yield(unit) {
				return
			}
		}
	}
}

// snapshot lists the directory on first use and returns the same result
// afterwards. A cancelled context is not cached.
func (s *FolderSource) snapshot(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listed {
		return s.paths, s.listErr
	}
	paths, err := s.list(ctx)
	if ctx.Err() != nil {
		return nil, err
	}
	s.listed = true
	s.paths, s.listErr = paths, err
	return paths, err
}

func (s *FolderSource) list(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if !slices.Contains(s.extensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// StaticSource serves a fixed list of units.
type StaticSource []Unit

// Count returns len(s).
func (s StaticSource) Count(context.Context) (int, error) {
	return len(s), nil
}

// Units yields the units in order.
func (s StaticSource) Units(ctx context.Context) iter.Seq[Unit] {
	return func(yield func(Unit) bool) {
		for _, unit := range s {
			if ctx.Err() != nil || !yield(unit) {
				return
			}
		}
	}
}
