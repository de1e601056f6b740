package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMonitor()
	c.normalizeClassifier()
	if err := c.normalizeService(); err != nil {
		return err
	}
	c.normalizeREST()
	if err := c.normalizeExport(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.StatusFile = strings.TrimSpace(c.Paths.StatusFile)
	if c.Paths.StatusFile == "" {
		c.Paths.StatusFile = defaultStatusFile
	}
	return nil
}

func (c *Config) normalizeMonitor() {
	if c.Monitor.PollIntervalSeconds <= 0 {
		c.Monitor.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Monitor.ProgressBucket <= 0 {
		c.Monitor.ProgressBucket = defaultProgressBucket
	}
}

func (c *Config) normalizeClassifier() {
	c.Classifier.ServiceURL = strings.TrimRight(strings.TrimSpace(c.Classifier.ServiceURL), "/")
	if c.Classifier.ServiceURL == "" {
		if value, ok := os.LookupEnv("CASEWATCH_CLASSIFIER_URL"); ok {
			c.Classifier.ServiceURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	command := make([]string, 0, len(c.Classifier.Command))
	for _, arg := range c.Classifier.Command {
		if arg = strings.TrimSpace(arg); arg != "" {
			command = append(command, arg)
		}
	}
	c.Classifier.Command = command
	if c.Classifier.TopK == 0 {
		c.Classifier.TopK = defaultTopK
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		c.Classifier.TimeoutSeconds = defaultClassifierTimeout
	}

	exts := make([]string, 0, len(c.Classifier.Extensions))
	seen := make(map[string]struct{}, len(c.Classifier.Extensions))
	for _, ext := range c.Classifier.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	c.Classifier.Extensions = exts
}

func (c *Config) normalizeService() error {
	c.Service.Bind = strings.TrimSpace(c.Service.Bind)
	if c.Service.Bind == "" {
		c.Service.Bind = defaultServiceBind
	}
	if strings.TrimSpace(c.Service.DBPath) == "" {
		c.Service.DBPath = filepath.Join(c.Paths.StateDir, defaultServiceDBName)
	}
	var err error
	if c.Service.DBPath, err = expandPath(c.Service.DBPath); err != nil {
		return fmt.Errorf("service.db_path: %w", err)
	}
	if c.Service.MaxUploadMB <= 0 {
		c.Service.MaxUploadMB = defaultMaxUploadMB
	}
	c.Service.APIToken = strings.TrimSpace(c.Service.APIToken)
	if c.Service.APIToken == "" {
		c.Service.APIToken = lookupEnv("CASEWATCH_API_TOKEN")
	}
	return nil
}

func (c *Config) normalizeREST() {
	c.REST.BaseURL = strings.TrimRight(strings.TrimSpace(c.REST.BaseURL), "/")
	if c.REST.BaseURL == "" {
		c.REST.BaseURL = defaultRESTBaseURL
	}
	c.REST.ServicePath = strings.Trim(strings.TrimSpace(c.REST.ServicePath), "/")
	c.REST.Username = strings.TrimSpace(c.REST.Username)
	if c.REST.Username == "" {
		c.REST.Username = lookupEnv("CASEWATCH_REST_USER", "nuix_user")
	}
	if c.REST.Password == "" {
		c.REST.Password = lookupEnv("CASEWATCH_REST_PASSWORD", "nuix_password")
	}
	c.REST.LicenseType = strings.TrimSpace(c.REST.LicenseType)
	if c.REST.LicenseType == "" {
		c.REST.LicenseType = defaultRESTLicenseType
	}
	if c.REST.Workers <= 0 {
		c.REST.Workers = defaultRESTWorkers
	}
	c.REST.CaseName = strings.TrimSpace(c.REST.CaseName)
	if c.REST.RequestsPerSecond <= 0 {
		c.REST.RequestsPerSecond = defaultRESTRequestsPerSec
	}
	if c.REST.TimeoutSeconds <= 0 {
		c.REST.TimeoutSeconds = defaultRESTTimeoutSeconds
	}
	if c.REST.ReadyTimeoutSeconds <= 0 {
		c.REST.ReadyTimeoutSeconds = defaultRESTReadySeconds
	}
	if c.REST.AsyncPollSeconds <= 0 {
		c.REST.AsyncPollSeconds = defaultRESTAsyncPollSecs
	}
}

func (c *Config) normalizeExport() error {
	var err error
	if c.Export.Path, err = expandPath(strings.TrimSpace(c.Export.Path)); err != nil {
		return fmt.Errorf("export.path: %w", err)
	}
	c.Export.Subfolder = strings.TrimSpace(c.Export.Subfolder)
	if c.Export.Subfolder == "" {
		c.Export.Subfolder = defaultExportSubfolder
	}
	c.Export.TagFormat = strings.TrimSpace(c.Export.TagFormat)
	if c.Export.TagFormat == "" {
		c.Export.TagFormat = defaultExportTagFormat
	}
	c.Export.TagQuery = strings.TrimSpace(c.Export.TagQuery)
	if c.Export.TagQuery == "" {
		c.Export.TagQuery = defaultExportTagQuery
	}
	if c.Export.Workers <= 0 {
		c.Export.Workers = defaultExportWorkers
	}
	if c.Export.PageSize <= 0 {
		c.Export.PageSize = defaultExportPageSize
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = lookupEnv("CASEWATCH_NTFY_TOPIC")
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func lookupEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
