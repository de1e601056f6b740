package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working and state directory configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	StateDir   string `toml:"state_dir"`
	StatusFile string `toml:"status_file"`
}

// Monitor contains status polling configuration.
type Monitor struct {
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
	MaxPolls            int     `toml:"max_polls"`       // 0 polls forever
	TimeoutSeconds      int     `toml:"timeout_seconds"` // 0 disables the wall-clock deadline
	Dedup               bool    `toml:"dedup"`
	ProgressBucket      float64 `toml:"progress_bucket"`
	AtomicWrites        bool    `toml:"atomic_writes"`
}

// Classifier contains configuration for the image classification backend.
// ServiceURL takes precedence over Command when both are set.
type Classifier struct {
	ServiceURL     string   `toml:"service_url"`
	Command        []string `toml:"command"`
	TopK           int      `toml:"top_k"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Extensions     []string `toml:"extensions"`
}

// Service contains configuration for the classifyd HTTP service.
type Service struct {
	Bind        string `toml:"bind"`
	DBPath      string `toml:"db_path"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	APIToken    string `toml:"api_token"`
}

// REST contains configuration for the case-management REST service.
type REST struct {
	BaseURL             string  `toml:"base_url"`
	ServicePath         string  `toml:"service_path"`
	Username            string  `toml:"username"`
	Password            string  `toml:"password"`
	LicenseType         string  `toml:"license_type"`
	Workers             int     `toml:"workers"`
	CaseName            string  `toml:"case_name"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	ReadyTimeoutSeconds int     `toml:"ready_timeout_seconds"`
	AsyncPollSeconds    int     `toml:"async_poll_seconds"`
}

// Export contains configuration for paged tag-and-export runs.
type Export struct {
	Path      string `toml:"path"`
	Subfolder string `toml:"subfolder"`
	TagFormat string `toml:"tag_format"`
	TagQuery  string `toml:"tag_query"`
	Workers   int    `toml:"workers"`
	PageSize  int    `toml:"page_size"`
}

// Notifications contains ntfy delivery settings. An empty topic disables
// notifications.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for casewatch.
//
// Configuration sections by subsystem:
//   - Paths: working directory, state directory and status file name
//   - Monitor: poll cadence and deadlines for status watching
//   - Classifier: classification backend (HTTP service or local command)
//   - Service: classifyd bind address and job database
//   - REST: case-management service connection and credentials
//   - Export: tag format and paging for export runs
//   - Notifications: ntfy topic for job and export events
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Monitor       Monitor       `toml:"monitor"`
	Classifier    Classifier    `toml:"classifier"`
	Service       Service       `toml:"service"`
	REST          REST          `toml:"rest"`
	Export        Export        `toml:"export"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/casewatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("casewatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the work and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Service.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatusPath returns the absolute path of the status snapshot inside the work directory.
func (c *Config) StatusPath() string {
	return filepath.Join(c.Paths.WorkDir, c.Paths.StatusFile)
}

// LockPath returns the single-instance lock file used by classifyd.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "classifyd.lock")
}

// PollInterval returns the monitor poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// MonitorTimeout returns the wall-clock monitor deadline, zero when disabled.
func (c *Config) MonitorTimeout() time.Duration {
	return time.Duration(c.Monitor.TimeoutSeconds) * time.Second
}

// ClassifierTimeout returns the per-request classifier timeout.
func (c *Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// RESTTimeout returns the per-request timeout for case-management calls.
func (c *Config) RESTTimeout() time.Duration {
	return time.Duration(c.REST.TimeoutSeconds) * time.Second
}

// RESTReadyTimeout bounds how long to wait for the case-management service to report healthy.
func (c *Config) RESTReadyTimeout() time.Duration {
	return time.Duration(c.REST.ReadyTimeoutSeconds) * time.Second
}

// AsyncPollInterval returns the poll interval for asynchronous REST functions.
func (c *Config) AsyncPollInterval() time.Duration {
	return time.Duration(c.REST.AsyncPollSeconds) * time.Second
}

// NotificationTimeout returns the per-request ntfy timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// RESTServiceURL joins the base URL and service path into the API root.
func (c *Config) RESTServiceURL() string {
	base := strings.TrimRight(c.REST.BaseURL, "/")
	path := strings.Trim(c.REST.ServicePath, "/")
	if path == "" {
		return base + "/"
	}
	return base + "/" + path + "/"
}

// ClassifierConfigured reports whether a classification backend is available.
func (c *Config) ClassifierConfigured() bool {
	return c.Classifier.ServiceURL != "" || len(c.Classifier.Command) > 0
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
