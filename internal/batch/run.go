// Package batch runs a classification job over a set of units and publishes
// every intermediate snapshot through a status writer.
//
// Run is the single writer of a job's snapshot. Per-unit failures are
// recorded in the snapshot and never stop the job; only context
// cancellation, source errors and writer errors do.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"casewatch/internal/classifier"
	"casewatch/internal/jobstate"
	"casewatch/internal/logging"
	"casewatch/internal/statusstore"
)

// Options tunes a run.
type Options struct {
	// JobID tags log lines.
	JobID string
	// VerifyImages rejects undecodable inputs before they reach the
	// classifier. The unit is recorded as a failure.
	VerifyImages bool
	// AnnounceStart writes a snapshot when a unit starts as well as when it
	// finishes.
	AnnounceStart bool
	// OnUnit is called after each unit outcome is published.
	OnUnit  func(index int, unitID string, outcome jobstate.Outcome)
	Logger  *slog.Logger
	Sampler *logging.ProgressSampler
}

// Run classifies every unit of src and publishes snapshots through w: an
// initial empty snapshot, one per unit outcome, and a final done snapshot.
// It returns the last snapshot written.
func Run(ctx context.Context, src Source, cls classifier.Classifier, w statusstore.Writer, opts Options) (jobstate.Report, error) {
	logger := logging.NewComponentLogger(opts.Logger, "batch")
	if opts.JobID != "" {
		logger = logger.With(logging.Job(opts.JobID))
	}
	if src == nil || cls == nil || w == nil {
		return jobstate.Report{}, errors.New("batch run requires a source, classifier and writer")
	}

	total, err := src.Count(ctx)
	if err != nil {
		return jobstate.Report{}, fmt.Errorf("count units: %w", err)
	}
	report := jobstate.NewReport(total)
	if err := w.Write(ctx, report); err != nil {
		return report, fmt.Errorf("write initial snapshot: %w", err)
	}
	logger.Info("job started", logging.Int("total", total))
	started := time.Now()

	index := 0
	for unit := range src.Units(ctx) {
		index++
		unitLogger := logger.With(logging.Unit(unit.ID))

		if opts.AnnounceStart {
			next, err := report.WithStarted(index)
			if err != nil {
				return report, fmt.Errorf("start unit %s: %w", unit.ID, err)
			}
			if !next.Equal(report) {
				report = next
				if err := w.Write(ctx, report); err != nil {
					return report, fmt.Errorf("write snapshot: %w", err)
				}
			}
		}

		outcome := classifyUnit(ctx, cls, unit, opts.VerifyImages)
		if ctx.Err() != nil {
			break
		}
		if outcome.Failed() {
			logging.WarnWithContext(unitLogger, "unit failed", "unit_failed",
				logging.String("reason", outcome.Message()),
				logging.Impact("unit recorded as failure; job continues"),
			)
		} else {
			unitLogger.Debug("unit classified", logging.Int("labels", len(outcome.Classifications())))
		}

		next, err := report.WithOutcome(unit.ID, outcome)
		if err != nil {
			return report, fmt.Errorf("record unit %s: %w", unit.ID, err)
		}
		report = next
		if err := w.Write(ctx, report); err != nil {
			return report, fmt.Errorf("write snapshot: %w", err)
		}
		if opts.OnUnit != nil {
			opts.OnUnit(index, unit.ID, outcome)
		}
		if opts.Sampler.ShouldLog(opts.JobID, report.Status.Progress) {
			logger.Info("job progress",
				logging.Int("progress", report.Status.Progress),
				logging.Int("current_item", report.Status.CurrentItem),
				logging.Int("total", total),
			)
		}
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("job interrupted after %d of %d units: %w", report.Len(), total, err)
	}

	final, err := report.WithDone()
	if err != nil {
		return report, fmt.Errorf("finish job: %w", err)
	}
	if err := w.Write(ctx, final); err != nil {
		return report, fmt.Errorf("write final snapshot: %w", err)
	}
	logger.Info("job done",
		logging.Int("total", total),
		logging.Int("failed", len(final.Status.Errors)),
		logging.Duration("elapsed", time.Since(started).Round(time.Millisecond)),
	)
	return final, nil
}

func classifyUnit(ctx context.Context, cls classifier.Classifier, unit Unit, verify bool) jobstate.Outcome {
	if unit.Open == nil {
		return jobstate.Failure("unit has no content")
	}
	rc, err := unit.Open()
	if err != nil {
		return jobstate.Failure(fmt.Sprintf("open: %v", err))
	}
	defer rc.Close()

	var input io.Reader = rc
	if verify {
		data, err := io.ReadAll(rc)
		if err != nil {
			return jobstate.Failure(fmt.Sprintf("read: %v", err))
		}
		if _, err := classifier.CheckImage(data); err != nil {
			return jobstate.Failure(err.Error())
		}
		input = bytes.NewReader(data)
	}

	classes, err := cls.Classify(ctx, unit.ID, input)
	if err != nil {
		return jobstate.Failure(err.Error())
	}
	return jobstate.Success(classifier.TopK(classes, jobstate.MaxClassifications)...)
}
