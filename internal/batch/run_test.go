package batch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"casewatch/internal/classifier"
	"casewatch/internal/jobstate"
	"casewatch/internal/monitor"
	"casewatch/internal/report"
	"casewatch/internal/statusstore"
)

type recordingWriter struct {
	mu        sync.Mutex
	snapshots []jobstate.Report
	failAt    int
}

func (w *recordingWriter) Write(_ context.Context, r jobstate.Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.snapshots)+1 == w.failAt {
		return errors.New("disk full")
	}
	w.snapshots = append(w.snapshots, r)
	return nil
}

func textUnit(id, body string) Unit {
	return Unit{ID: id, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

var labelByContent = classifier.Func(func(_ context.Context, _ string, image io.Reader) ([]jobstate.Classification, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return nil, err
	}
	if string(data) == "corrupt" {
		return nil, errors.New("cannot identify image file")
	}
	return []jobstate.Classification{
		{Label: "low", Score: 0.1},
		{Label: string(data), Score: 0.9},
		{Label: "mid", Score: 0.5},
		{Label: "tiny", Score: 0.01},
	}, nil
})

func TestRunPublishesEverySnapshot(t *testing.T) {
	src := StaticSource{
		textUnit("a.jpg", "cat"),
		textUnit("b.jpg", "corrupt"),
		textUnit("c.jpg", "dog"),
	}
	w := &recordingWriter{}
	var seen []string
	final, err := Run(context.Background(), src, labelByContent, w, Options{
		OnUnit: func(_ int, unitID string, _ jobstate.Outcome) { seen = append(seen, unitID) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(w.snapshots) != 5 {
		t.Fatalf("wrote %d snapshots, want 5", len(w.snapshots))
	}
	first := w.snapshots[0]
	if first.Status.Total != 3 || first.Status.Done || first.Len() != 0 {
		t.Fatalf("unexpected initial snapshot %+v", first.Status)
	}
	lastProgress := -1
	for i, snap := range w.snapshots {
		if err := snap.Validate(); err != nil {
			t.Fatalf("snapshot %d invalid: %v", i, err)
		}
		if snap.Status.Progress < lastProgress {
			t.Fatalf("progress went backwards at snapshot %d", i)
		}
		lastProgress = snap.Status.Progress
	}
	if got := []int{w.snapshots[1].Status.Progress, w.snapshots[2].Status.Progress, w.snapshots[3].Status.Progress}; got[0] != 33 || got[1] != 66 || got[2] != 100 {
		t.Fatalf("progress sequence %v", got)
	}
	if w.snapshots[3].Status.Done {
		t.Fatal("snapshot before the final one must not be done")
	}
	if !final.Status.Done || !final.Equal(w.snapshots[4]) {
		t.Fatalf("final report mismatch: %+v", final.Status)
	}
	if strings.Join(seen, ",") != "a.jpg,b.jpg,c.jpg" {
		t.Fatalf("OnUnit order %v", seen)
	}

	summary, err := report.Aggregate(final)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(summary.Successes) != 2 || len(summary.Failures) != 1 {
		t.Fatalf("summary %+v", summary)
	}
	if summary.Failures[0].UnitID != "b.jpg" || summary.Failures[0].Message != "cannot identify image file" {
		t.Fatalf("failure %+v", summary.Failures[0])
	}
	top := summary.Successes[0].Classifications
	if len(top) != 3 || top[0].Label != "cat" || top[1].Label != "mid" || top[2].Label != "low" {
		t.Fatalf("top classes %v", top)
	}
}

func TestRunEmptyJobIsDoneImmediately(t *testing.T) {
	w := &recordingWriter{}
	final, err := Run(context.Background(), StaticSource{}, labelByContent, w, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.snapshots) != 2 || !final.Status.Done || final.Status.Progress != 100 || final.Status.Total != 0 {
		t.Fatalf("unexpected empty job snapshots: %d, %+v", len(w.snapshots), final.Status)
	}
}

func TestRunAnnounceStart(t *testing.T) {
	w := &recordingWriter{}
	_, err := Run(context.Background(), StaticSource{textUnit("a", "x"), textUnit("b", "y")}, labelByContent, w, Options{AnnounceStart: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// initial, start a, outcome a, start b, outcome b, done
	if len(w.snapshots) != 6 {
		t.Fatalf("wrote %d snapshots, want 6", len(w.snapshots))
	}
	if s := w.snapshots[1].Status; s.CurrentItem != 1 || s.Progress != 50 || w.snapshots[1].Len() != 0 {
		t.Fatalf("start snapshot %+v", s)
	}
}

func TestRunVerifyImagesRecordsFailure(t *testing.T) {
	called := false
	cls := classifier.Func(func(context.Context, string, io.Reader) ([]jobstate.Classification, error) {
		called = true
		return nil, nil
	})
	w := &recordingWriter{}
	final, err := Run(context.Background(), StaticSource{textUnit("a.jpg", "not an image")}, cls, w, Options{VerifyImages: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Fatal("classifier should not see undecodable input")
	}
	if len(final.Status.Errors) != 1 || !strings.Contains(final.Status.Errors[0].Message, "decode image") {
		t.Fatalf("errors %+v", final.Status.Errors)
	}
}

func TestRunOpenFailureIsRecorded(t *testing.T) {
	unit := Unit{ID: "gone.jpg", Open: func() (io.ReadCloser, error) { return nil, os.ErrNotExist }}
	final, err := Run(context.Background(), StaticSource{unit}, labelByContent, &recordingWriter{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	outcome, ok := final.Lookup("gone.jpg")
	if !ok || !outcome.Failed() || !strings.HasPrefix(outcome.Message(), "open:") {
		t.Fatalf("outcome %+v", outcome)
	}
}

func TestRunStopsOnWriterError(t *testing.T) {
	w := &recordingWriter{failAt: 2}
	_, err := Run(context.Background(), StaticSource{textUnit("a", "x"), textUnit("b", "y")}, labelByContent, w, Options{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want writer error", err)
	}
}

func TestRunCancelledLeavesJobUnfinished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cls := classifier.Func(func(context.Context, string, io.Reader) ([]jobstate.Classification, error) {
		cancel()
		return []jobstate.Classification{{Label: "x", Score: 1}}, nil
	})
	w := &recordingWriter{}
	_, err := Run(ctx, StaticSource{textUnit("a", "x"), textUnit("b", "y")}, cls, w, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	for _, snap := range w.snapshots {
		if snap.Status.Done {
			t.Fatal("cancelled job must not be marked done")
		}
	}
}

func TestFolderSourceListsSortedImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.jpeg", "c.png", "notes.txt", "d.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "e.jpg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	src := NewFolderSource(dir, nil)
	n, err := src.Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}
	var names []string
	for unit := range src.Units(context.Background()) {
		rc, err := unit.Open()
		if err != nil {
			t.Fatalf("open %s: %v", unit.ID, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != filepath.Base(unit.ID) {
			t.Fatalf("unit %s content %q", unit.ID, data)
		}
		names = append(names, filepath.Base(unit.ID))
	}
	if strings.Join(names, ",") != "a.jpeg,b.JPG,d.jpg" {
		t.Fatalf("units %v", names)
	}

	pngOnly := NewFolderSource(dir, []string{"PNG"})
	if n, _ := pngOnly.Count(context.Background()); n != 1 {
		t.Fatalf("png count = %d", n)
	}
	if _, err := NewFolderSource(filepath.Join(dir, "missing"), nil).Count(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRunIgnoresFilesAddedMidRun(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	var once sync.Once
	cls := classifier.Func(func(_ context.Context, _ string, _ io.Reader) ([]jobstate.Classification, error) {
		once.Do(func() {
			_ = os.WriteFile(filepath.Join(dir, "a2.jpg"), []byte("late"), 0o644)
		})
		return []jobstate.Classification{{Label: "document", Score: 0.8}}, nil
	})

	w := &recordingWriter{}
	final, err := Run(context.Background(), NewFolderSource(dir, nil), cls, w, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final.Status.Done || final.Status.Total != 2 || len(final.Results()) != 2 {
		t.Fatalf("final = %+v", final.Status)
	}
}

func TestFolderSourceReportsListError(t *testing.T) {
	src := NewFolderSource(filepath.Join(t.TempDir(), "missing"), nil)
	if _, err := src.Count(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Count err = %v, want ErrNotExist", err)
	}
	for unit := range src.Units(context.Background()) {
		t.Fatalf("unexpected unit %s", unit.ID)
	}
	_, err := Run(context.Background(), src, labelByContent, &recordingWriter{}, Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Run err = %v, want ErrNotExist", err)
	}
}

func TestRunWithFileStoreAndMonitor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inference.json")
	writer, err := statusstore.NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer writer.Close()

	release := make(chan struct{})
	slow := classifier.Func(func(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error) {
		<-release
		return labelByContent(ctx, unitID, image)
	})
	src := StaticSource{textUnit("a", "cat"), textUnit("b", "dog")}

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), src, slow, writer, Options{})
		done <- err
	}()

	var events []monitor.Progress
	var mu sync.Mutex
	results := monitor.Start(context.Background(), statusstore.NewFileStore(path), monitor.Options{
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
		Dedup:        true,
		OnProgress: func(p monitor.Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		},
	})
	close(release)

	res := <-results
	if res.Err != nil {
		t.Fatalf("monitor: %v", res.Err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Report.Status.Done || res.Report.Len() != 2 {
		t.Fatalf("final report %+v", res.Report.Status)
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Fatalf("progress went backwards: %v", events)
		}
	}
}
