package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casewatch/internal/services"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("validate sample config: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.REST.Password = "hunter2"
	env.cfg.Service.APIToken = "s3cr3t-token"
	env.rewriteConfig(t)

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, redacted)
	requireContains(t, out, "[classifier]")
	for _, secret := range []string{"hunter2", "s3cr3t-token"} {
		if strings.Contains(out, secret) {
			t.Fatalf("config show leaked %q:\n%s", secret, out)
		}
	}
}

func TestInvalidConfigIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[paths\nwork_dir = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, err := runCLI(t, []string{"config", "validate"}, path)
	if got := services.ExitCode(err); got != services.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", got, services.ExitConfiguration, err)
	}
}

func TestConfigShowSection(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show", "monitor"}, env.configPath)
	if err != nil {
		t.Fatalf("config show monitor: %v", err)
	}
	requireContains(t, out, "[monitor]")
	requireContains(t, out, "poll_interval_seconds")
	if strings.Contains(out, "[classifier]") {
		t.Fatalf("expected only the monitor table:\n%s", out)
	}

	_, _, err = runCLI(t, []string{"config", "show", "nope"}, env.configPath)
	if got := services.ExitCode(err); got != services.ExitUsage {
		t.Fatalf("exit code = %d, want %d (err %v)", got, services.ExitUsage, err)
	}
}
