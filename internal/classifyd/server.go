package classifyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"casewatch/internal/classifier"
	"casewatch/internal/config"
	"casewatch/internal/jobstore"
	"casewatch/internal/logging"
	"casewatch/internal/notifications"
)

// ErrAlreadyRunning is returned by Start when another instance holds the lock.
var ErrAlreadyRunning = errors.New("classifyd is already running")

// Server is the classification service.
type Server struct {
	cfg        *config.Config
	classifier classifier.Classifier
	store      *jobstore.Store
	logger     *slog.Logger
	metrics    *metrics
	notifier   notifications.Service
	router     *mux.Router

	lock     *flock.Flock
	listener net.Listener
	server   *http.Server

	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	jobs       sync.WaitGroup
}

// New builds a server. The store is owned by the caller.
func New(cfg *config.Config, cls classifier.Classifier, store *jobstore.Store, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cls == nil {
		return nil, errors.New("classifier is required")
	}
	if store == nil {
		return nil, errors.New("job store is required")
	}
	jobsCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		classifier: cls,
		store:      store,
		logger:     logging.NewComponentLogger(logger, "classifyd"),
		metrics:    newMetrics(),
		notifier:   notifications.NewService(cfg),
		lock:       flock.New(cfg.LockPath()),
		jobsCtx:    jobsCtx,
		cancelJobs: cancel,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/predict/{guid}", s.handlePredict).Methods(http.MethodPost)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(s.cfg.Service.APIToken))
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/summary", s.handleJobSummary).Methods(http.MethodGet)
	return r
}

// Start acquires the instance lock, fails jobs orphaned by a previous
// process and begins serving on the configured bind address.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, s.cfg.LockPath())
	}

	if n, err := s.store.FailInterrupted(ctx); err != nil {
		s.logger.Warn("could not fail interrupted jobs", logging.Error(err))
	} else if n > 0 {
		s.logger.Info("failed jobs interrupted by previous shutdown", logging.Int64("count", n))
	}

	listener, err := net.Listen("tcp", s.cfg.Service.Bind)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("classifyd listening",
		logging.String("address", listener.Addr().String()),
		logging.String("lock", s.cfg.LockPath()),
	)
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the HTTP server down, cancels running jobs, waits for them and
// releases the lock. It is safe to call more than once.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.cancelJobs()
	s.jobs.Wait()
	if s.lock.Locked() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release lock", logging.Error(err))
		}
	}
}

// Wait blocks until every background job has finished.
func (s *Server) Wait() {
	s.jobs.Wait()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// requestIDMiddleware tags the request context with the caller's
// X-Request-ID, or a new one, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// authMiddleware validates bearer tokens. An empty token disables the check.
func authMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
