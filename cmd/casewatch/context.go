package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"casewatch/internal/config"
	"casewatch/internal/logging"
	"casewatch/internal/monitor"
	"casewatch/internal/notifications"
	"casewatch/internal/services"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "load", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "config", "directories", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// loggerFor returns the command logger, writing to stderr and the state log.
func (c *commandContext) loggerFor(name string) *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue(), name)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: "info", Format: "console"})
		}
		c.logger = logger
	})
	return c.logger
}

// notify delivers a notification and logs, rather than returns, failures.
func (c *commandContext) notify(cmd *cobra.Command, send func(context.Context, notifications.Service) error) {
	svc := notifications.NewService(c.configValue())
	if !notifications.Enabled(svc) {
		return
	}
	if err := send(context.WithoutCancel(cmd.Context()), svc); err != nil {
		c.loggerFor("casewatch").Warn("notification failed",
			logging.Error(err),
			logging.Event("notification_failed"),
		)
	}
}

// monitorOptions builds watch options from config, with flag overrides.
func (c *commandContext) monitorOptions(maxPolls, timeoutSeconds int) monitor.Options {
	cfg := c.configValue()
	opts := monitor.Options{
		PollInterval: cfg.PollInterval(),
		MaxPolls:     cfg.Monitor.MaxPolls,
		Timeout:      cfg.MonitorTimeout(),
		Dedup:        cfg.Monitor.Dedup,
		Sampler:      logging.NewProgressSampler(cfg.Monitor.ProgressBucket),
	}
	if maxPolls > 0 {
		opts.MaxPolls = maxPolls
	}
	if timeoutSeconds > 0 {
		opts.Timeout = secondsDuration(timeoutSeconds)
	}
	return opts
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
