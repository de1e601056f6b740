package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateREST(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if c.Notifications.NtfyTopic != "" {
		if err := validateHTTPURL(c.Notifications.NtfyTopic); err != nil {
			return fmt.Errorf("notifications.ntfy_topic: %w", err)
		}
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.ContainsAny(c.Paths.StatusFile, `/\`) {
		return fmt.Errorf("paths.status_file %q must be a file name, not a path", c.Paths.StatusFile)
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if c.Monitor.PollIntervalSeconds <= 0 {
		return errors.New("monitor.poll_interval_seconds must be positive")
	}
	if c.Monitor.MaxPolls < 0 {
		return errors.New("monitor.max_polls must be >= 0")
	}
	if c.Monitor.TimeoutSeconds < 0 {
		return errors.New("monitor.timeout_seconds must be >= 0")
	}
	if c.Monitor.ProgressBucket <= 0 || c.Monitor.ProgressBucket > 100 {
		return errors.New("monitor.progress_bucket must be within (0, 100]")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.TopK < 1 || c.Classifier.TopK > 3 {
		return fmt.Errorf("classifier.top_k must be between 1 and 3, got %d", c.Classifier.TopK)
	}
	if c.Classifier.ServiceURL != "" {
		if err := validateHTTPURL(c.Classifier.ServiceURL); err != nil {
			return fmt.Errorf("classifier.service_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateREST() error {
	if err := validateHTTPURL(c.REST.BaseURL); err != nil {
		return fmt.Errorf("rest.base_url: %w", err)
	}
	if c.REST.Workers <= 0 {
		return errors.New("rest.workers must be positive")
	}
	if c.REST.RequestsPerSecond <= 0 {
		return errors.New("rest.requests_per_second must be positive")
	}
	return nil
}

func (c *Config) validateExport() error {
	if !strings.Contains(c.Export.TagFormat, "{page}") {
		return errors.New("export.tag_format must contain the {page} placeholder")
	}
	if !strings.Contains(c.Export.TagQuery, "{export_tag}") {
		return errors.New("export.tag_query must contain the {export_tag} placeholder")
	}
	if c.Export.PageSize <= 0 {
		return errors.New("export.page_size must be positive")
	}
	if c.Export.Workers <= 0 {
		return errors.New("export.workers must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
