package classifyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"casewatch/internal/batch"
	"casewatch/internal/jobstate"
	"casewatch/internal/jobstore"
	"casewatch/internal/logging"
	"casewatch/internal/report"
)

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Dir string `json:"dir"`
}

// JobView is the JSON form of a job in list and create responses.
type JobView struct {
	ID          string    `json:"job_id"`
	Dir         string    `json:"dir"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Total       int       `json:"total"`
	CurrentItem int       `json:"current_item"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

func viewOf(job *jobstore.Job) JobView {
	return JobView{
		ID:          job.ID,
		Dir:         job.SourceDir,
		Status:      string(job.Status),
		Error:       job.ErrorMessage,
		Total:       job.Total,
		CurrentItem: job.CurrentItem,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// StartJob registers a job for dir and runs it in the background.
func (s *Server) StartJob(ctx context.Context, dir string) (*jobstore.Job, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	job, err := s.store.Create(ctx, dir)
	if err != nil {
		return nil, err
	}
	src := batch.NewFolderSource(dir, s.cfg.Classifier.Extensions)
	s.jobs.Add(1)
	s.metrics.running.Inc()
	go s.runJob(job.ID, src)
	return job, nil
}

func (s *Server) runJob(id string, src batch.Source) {
	defer s.jobs.Done()
	defer s.metrics.running.Dec()

	ctx := logging.WithJobID(s.jobsCtx, id)
	logger := logging.WithContext(ctx, s.logger)
	started := time.Now()
	final, err := batch.Run(ctx, src, s.classifier, s.store.Writer(id), batch.Options{
		JobID:        id,
		VerifyImages: true,
		Logger:       logger,
		Sampler:      logging.NewProgressSampler(s.cfg.Monitor.ProgressBucket),
		OnUnit: func(_ int, _ string, outcome jobstate.Outcome) {
			s.metrics.units.WithLabelValues(outcomeLabel(outcome.Failed())).Inc()
		},
	})

	status, message := jobstore.StatusDone, ""
	if err != nil {
		status, message = jobstore.StatusFailed, err.Error()
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.Hint("check the source folder and classifier health"),
		)
	}
	// The job context may already be cancelled on shutdown.
	if setErr := s.store.SetStatus(context.Background(), id, status, message); setErr != nil {
		logger.Error("failed to record job status", logging.Error(setErr))
	}
	s.metrics.jobs.WithLabelValues(string(status)).Inc()
	s.notifyJob(id, final, time.Since(started), err)
}

// notifyJob reports a finished job. Delivery failures are logged only.
func (s *Server) notifyJob(id string, final jobstate.Report, elapsed time.Duration, jobErr error) {
	ctx := context.Background()
	var err error
	if jobErr != nil {
		err = s.notifier.NotifyJobFailed(ctx, id, jobErr)
	} else {
		err = s.notifier.NotifyJobCompleted(ctx, id, final.Status.Total, len(final.Status.Errors), elapsed)
	}
	if err != nil {
		s.logger.Warn("job notification failed",
			logging.Job(id),
			logging.Error(err),
			logging.Event("notification_failed"),
		)
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := s.StartJob(r.Context(), req.Dir)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("job accepted",
		logging.Job(job.ID),
		logging.String("dir", job.SourceDir),
	)
	s.writeJSON(w, http.StatusAccepted, viewOf(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobstore.Status
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			statuses = append(statuses, jobstore.Status(trimmed))
		}
	}
	jobs, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: views})
}

// handleGetJob serves the job's snapshot in the status file layout. A job
// with no snapshot yet answers 404 so pollers treat it as not existing; a
// failed job answers 410 so they stop.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if msg, failed := job.FailureMessage(); failed {
		w.Header().Set("X-Job-Status", string(job.Status))
		s.writeError(w, http.StatusGone, msg)
		return
	}
	if job.SnapshotJSON == "" {
		s.writeError(w, http.StatusNotFound, "job has not published a snapshot yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Job-Status", string(job.Status))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(job.SnapshotJSON))
}

func (s *Server) handleJobSummary(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	snap, err := job.Report()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := report.Aggregate(snap)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status == jobstore.StatusPending || job.Status == jobstore.StatusRunning {
		s.writeError(w, http.StatusConflict, "job is still running")
		return
	}
	if _, err := s.store.Remove(r.Context(), job.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobstore.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}
