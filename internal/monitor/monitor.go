package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
	"casewatch/internal/statusstore"
)

// DefaultPollInterval is used when Options.PollInterval is not positive.
const DefaultPollInterval = 3 * time.Second

var (
	// ErrTimeout is returned when the caller's deadline passes before the job
	// is done. The producer keeps running.
	ErrTimeout error = kindError{msg: "timed out waiting for job", kind: "timeout"}
	// ErrJobAborted is returned when the producer exits or reports failure
	// without marking the job done.
	ErrJobAborted error = kindError{msg: "job aborted before completion", kind: "aborted"}
)

type kindError struct {
	msg  string
	kind string
}

func (e kindError) Error() string     { return e.msg }
func (e kindError) ErrorKind() string { return e.kind }

// AbortError carries the producer's exit error for ErrJobAborted, or the
// failure it reported through the store (statusstore.ErrJobFailed). ExitErr
// is nil when the producer exited cleanly but still left the job unfinished.
type AbortError struct {
	ExitErr error
	Last    *jobstate.Report
}

func (e *AbortError) Error() string {
	if e.ExitErr == nil {
		return ErrJobAborted.Error() + ": producer exited without finishing"
	}
	return fmt.Sprintf("%s: %v", ErrJobAborted.Error(), e.ExitErr)
}

func (e *AbortError) Is(target error) bool {
	return target == ErrJobAborted
}

// ErrorKind classifies the abort for exit-code mapping.
func (e *AbortError) ErrorKind() string {
	return "aborted"
}

func (e *AbortError) Unwrap() error {
	return e.ExitErr
}

// Progress is one observable progress event.
type Progress struct {
	Percent     int
	CurrentItem int
	Total       int
}

// Options configures a wait.
type Options struct {
	// PollInterval is the fixed delay between cycles.
	PollInterval time.Duration
	// MaxPolls bounds unsuccessful cycles (existence checks that find nothing
	// and reads that fail). Zero means unbounded.
	MaxPolls int
	// Timeout bounds wall-clock time. Zero means unbounded.
	Timeout time.Duration
	// Dedup suppresses progress events identical to the last one emitted.
	Dedup bool
	// OnProgress receives progress events for snapshots that are not done.
	OnProgress func(Progress)
	// Exited delivers the producer's exit error when the caller watches a
	// process. After it fires the loop reads once more and gives up.
	Exited <-chan error
	// JobID tags log lines.
	JobID   string
	Logger  *slog.Logger
	Sampler *logging.ProgressSampler
}

// WaitForCompletion blocks until the store holds a done snapshot and returns
// it. Read failures never end the wait; see the package documentation for the
// conditions that do.
func WaitForCompletion(ctx context.Context, store statusstore.Store, opts Options) (jobstate.Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.JobID != "" {
		logger = logger.With(logging.Job(opts.JobID))
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	l := &loop{
		reader: NewReader(store, logger),
		opts:   opts,
		logger: logger,
	}
	return l.run(ctx, interval)
}

// Result is the outcome delivered by Start.
type Result struct {
	Report jobstate.Report
	Err    error
}

// Start runs WaitForCompletion on its own goroutine. The returned channel
// receives exactly one Result and is then closed.
func Start(ctx context.Context, store statusstore.Store, opts Options) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		report, err := WaitForCompletion(ctx, store, opts)
		out <- Result{Report: report, Err: err}
	}()
	return out
}

type loop struct {
	reader  *Reader
	opts    Options
	logger  *slog.Logger
	found   bool
	misses  int
	emitted bool
	last    Progress
	latest  *jobstate.Report
}

func (l *loop) run(ctx context.Context, interval time.Duration) (jobstate.Report, error) {
	exited := l.opts.Exited
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		report, done, err := l.cycle(ctx)
		if errors.Is(err, statusstore.ErrJobFailed) {
			l.logger.Warn("producer reported failure",
				logging.Event("job_failed"),
				logging.Error(err),
			)
			return jobstate.Report{}, &AbortError{ExitErr: err, Last: l.latest}
		}
		if err != nil {
			return jobstate.Report{}, err
		}
		if done {
			l.logger.Info("job finished",
				logging.Int("total", report.Status.Total),
				logging.Int("errors", len(report.Status.Errors)),
			)
			return report, nil
		}
		if l.opts.MaxPolls > 0 && l.misses >= l.opts.MaxPolls {
			return jobstate.Report{}, fmt.Errorf("%w: %d unsuccessful polls", ErrTimeout, l.misses)
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return jobstate.Report{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case exitErr := <-exited:
			return l.finalRead(ctx, exitErr)
		case <-timer.C:
		}
	}
}

// cycle performs one existence check or read. A cycle that yields nothing
// counts against MaxPolls.
func (l *loop) cycle(ctx context.Context) (jobstate.Report, bool, error) {
	if !l.found {
		ok, err := l.reader.exists(ctx)
		if err != nil {
			return jobstate.Report{}, false, err
		}
		if !ok {
			l.misses++
			return jobstate.Report{}, false, nil
		}
		l.found = true
		l.logger.Debug("status store found")
	}

	report, ok, err := l.reader.read(ctx)
	if err != nil {
		return jobstate.Report{}, false, err
	}
	if !ok {
		l.misses++
		return jobstate.Report{}, false, nil
	}
	l.latest = &report
	if report.Status.Done {
		return report, true, nil
	}
	l.observe(report.Status)
	return report, false, nil
}

func (l *loop) observe(status jobstate.Status) {
	p := Progress{Percent: status.Progress, CurrentItem: status.CurrentItem, Total: status.Total}
	if l.opts.Dedup && l.emitted && p == l.last {
		return
	}
	l.emitted = true
	l.last = p
	if l.opts.Sampler.ShouldLog(l.opts.JobID, p.Percent) {
		l.logger.Info("job progress",
			logging.Int("progress", p.Percent),
			logging.Int("current_item", p.CurrentItem),
			logging.Int("total", p.Total),
		)
	}
	if l.opts.OnProgress != nil {
		l.opts.OnProgress(p)
	}
}

// finalRead gives a producer that just exited one last chance to have
// written its done snapshot.
func (l *loop) finalRead(ctx context.Context, exitErr error) (jobstate.Report, error) {
	report, ok, err := l.reader.read(ctx)
	if err == nil && ok {
		l.latest = &report
		if report.Status.Done {
			return report, nil
		}
	}
	l.logger.Warn("producer exited before finishing",
		logging.Event("job_aborted"),
		logging.Error(exitErr),
	)
	return jobstate.Report{}, &AbortError{ExitErr: exitErr, Last: l.latest}
}
