package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"casewatch/internal/config"
	"casewatch/internal/logging"
	"casewatch/internal/restapi"
	"casewatch/internal/services"
)

// Options configures an export session.
type Options struct {
	Export       config.Export
	PollInterval time.Duration
	Timeout      time.Duration
	ReadyTimeout time.Duration
	// MaxStatusFailures ends an export wait after this many consecutive
	// failed status calls. Zero retries forever.
	MaxStatusFailures int
	Logger            *slog.Logger
	Now               func() time.Time
}

// OptionsFrom builds session options from configuration.
func OptionsFrom(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Export:            cfg.Export,
		PollInterval:      cfg.AsyncPollInterval(),
		Timeout:           cfg.MonitorTimeout(),
		ReadyTimeout:      cfg.RESTReadyTimeout(),
		MaxStatusFailures: 5,
		Logger:            logger,
	}
}

// Session is a logged-in connection to one case.
type Session struct {
	client *restapi.Client
	caseID string
	opts   Options
	logger *slog.Logger
}

// Open waits for the service, logs in and resolves caseName.
func Open(ctx context.Context, client *restapi.Client, caseName string, opts Options) (*Session, error) {
	if caseName == "" {
		return nil, services.Wrap(services.ErrConfiguration, "export", "open", "rest.case_name is not set", nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "export")

	if err := client.WaitReady(ctx, opts.ReadyTimeout); err != nil {
		return nil, services.Wrap(services.ErrTransient, "export", "open", "service not ready", err)
	}
	if err := client.Login(ctx); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "export", "login", "", err)
	}
	caseID, err := client.FindCaseID(ctx, caseName)
	if err != nil {
		_ = client.Logout(ctx)
		if errors.Is(err, restapi.ErrCaseNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "export", "open", "", err)
		}
		return nil, services.Wrap(services.ErrTransient, "export", "open", "", err)
	}
	logger = logging.WithContext(logging.WithCaseID(ctx, caseID), logger)
	logger.Info("case opened", logging.String("case", caseName))
	return &Session{
		client: client,
		caseID: caseID,
		opts:   opts,
		logger: logger,
	}, nil
}

// CaseID returns the resolved case ID.
func (s *Session) CaseID() string {
	return s.caseID
}

// Close closes the case and logs out. Logout runs even when closing fails.
func (s *Session) Close(ctx context.Context) error {
	closeErr := s.client.CloseCase(ctx, s.caseID)
	logoutErr := s.client.Logout(ctx)
	if err := errors.Join(closeErr, logoutErr); err != nil {
		return fmt.Errorf("close export session: %w", err)
	}
	return nil
}
