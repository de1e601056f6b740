package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"casewatch/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CASEWATCH_REST_USER", "nuix_user",
		"CASEWATCH_REST_PASSWORD", "nuix_password",
		"CASEWATCH_CLASSIFIER_URL", "CASEWATCH_API_TOKEN",
		"CASEWATCH_NTFY_TOPIC",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultConfigWhenMissing(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected no config file to exist")
	}
	if want := filepath.Join(tempHome, ".config", "casewatch", "config.toml"); resolved != want {
		t.Fatalf("resolved = %q, want %q", resolved, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "casewatch", "work"); cfg.Paths.WorkDir != want {
		t.Fatalf("work dir = %q, want %q", cfg.Paths.WorkDir, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "casewatch", "jobs.db"); cfg.Service.DBPath != want {
		t.Fatalf("db path = %q, want %q", cfg.Service.DBPath, want)
	}
	if cfg.StatusPath() != filepath.Join(cfg.Paths.WorkDir, "inference.json") {
		t.Fatalf("status path = %q", cfg.StatusPath())
	}
	if cfg.Monitor.PollIntervalSeconds != 3 || !cfg.Monitor.Dedup || cfg.Monitor.MaxPolls != 0 {
		t.Fatalf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Classifier.TopK != 3 {
		t.Fatalf("top_k = %d, want 3", cfg.Classifier.TopK)
	}
	if cfg.ClassifierConfigured() {
		t.Fatal("expected no classifier configured by default")
	}
	if got := cfg.RESTServiceURL(); got != "http://127.0.0.1:8080/nuix-restful-service/svc/" {
		t.Fatalf("rest service url = %q", got)
	}
	if cfg.Notifications.NtfyTopic != "" || cfg.NotificationTimeout() != 10*time.Second {
		t.Fatalf("unexpected notification defaults: %+v", cfg.Notifications)
	}
}

func TestLoadCustomConfigFile(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "casewatch.toml")
	doc := map[string]any{
		"paths": map[string]any{
			"work_dir":    "~/jobs",
			"status_file": "status.json",
		},
		"monitor": map[string]any{
			"poll_interval_seconds": 1,
			"max_polls":             5,
			"dedup":                 false,
		},
		"classifier": map[string]any{
			"service_url": "http://classifier:8982/",
			"top_k":       2,
			"extensions":  []string{"PNG", ".jpg", ".png"},
		},
		"rest": map[string]any{
			"base_url": "https://nuix.example:8443/",
			"username": "analyst",
		},
		"logging": map[string]any{"format": "JSON", "level": "DEBUG"},
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Paths.WorkDir != filepath.Join(tempHome, "jobs") {
		t.Fatalf("work dir = %q", cfg.Paths.WorkDir)
	}
	if cfg.StatusPath() != filepath.Join(tempHome, "jobs", "status.json") {
		t.Fatalf("status path = %q", cfg.StatusPath())
	}
	if cfg.Monitor.MaxPolls != 5 || cfg.Monitor.Dedup {
		t.Fatalf("monitor = %+v", cfg.Monitor)
	}
	if cfg.Classifier.ServiceURL != "http://classifier:8982" {
		t.Fatalf("service url = %q", cfg.Classifier.ServiceURL)
	}
	if got := strings.Join(cfg.Classifier.Extensions, ","); got != ".png,.jpg" {
		t.Fatalf("extensions = %s", got)
	}
	if cfg.REST.Username != "analyst" || cfg.REST.BaseURL != "https://nuix.example:8443" {
		t.Fatalf("rest = %+v", cfg.REST)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestRESTCredentialsFallBackToEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("nuix_user", "legacy")
	t.Setenv("CASEWATCH_REST_PASSWORD", "secret")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.REST.Username != "legacy" || cfg.REST.Password != "secret" {
		t.Fatalf("credentials = %q/%q", cfg.REST.Username, cfg.REST.Password)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"top_k too large", func(c *config.Config) { c.Classifier.TopK = 4 }, "classifier.top_k"},
		{"negative max polls", func(c *config.Config) { c.Monitor.MaxPolls = -1 }, "monitor.max_polls"},
		{"status file is a path", func(c *config.Config) { c.Paths.StatusFile = "a/b.json" }, "paths.status_file"},
		{"tag format without page", func(c *config.Config) { c.Export.TagFormat = "export" }, "export.tag_format"},
		{"bad rest url", func(c *config.Config) { c.REST.BaseURL = "ftp://x" }, "rest.base_url"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "casewatch" }, "notifications.ntfy_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Export.PageSize != 100 || cfg.Export.TagFormat != "export|{year}.{month}.{day}|pg{page}" {
		t.Fatalf("export = %+v", cfg.Export)
	}
}
