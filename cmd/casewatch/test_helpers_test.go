package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"casewatch/internal/config"
	"casewatch/internal/testsupport"
)

const scriptOutput = `[["document", 0.9], ["person", 0.07], ["weapon", 0.03]]`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	imageDir   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithClassifierScript(scriptOutput)}, opts...)...)
	cfg.Logging.Level = "error"
	return &cliTestEnv{
		cfg:        cfg,
		configPath: testsupport.WriteConfig(t, cfg),
		imageDir:   filepath.Join(testsupport.BaseDir(cfg), "images"),
	}
}

// rewriteConfig persists changes made to env.cfg.
func (e *cliTestEnv) rewriteConfig(t *testing.T) {
	t.Helper()
	e.configPath = testsupport.WriteConfig(t, e.cfg)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeBrokenImage(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken image: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
