package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"casewatch/internal/classifier"
	"casewatch/internal/classifyd"
	"casewatch/internal/jobstate"
	"casewatch/internal/report"
	"casewatch/internal/services"
	"casewatch/internal/testsupport"
)

func startClassifyd(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	labels := classifier.Func(func(context.Context, string, io.Reader) ([]jobstate.Classification, error) {
		return []jobstate.Classification{{Label: "vehicle", Score: 0.8}, {Label: "person", Score: 0.2}}, nil
	})
	srv, err := classifyd.New(env.cfg, labels, testsupport.MustOpenStore(t, env.cfg), nil)
	if err != nil {
		t.Fatalf("classifyd.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return ts.URL
}

func TestJobsStartWatchAndList(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithAPIToken("cli-token"))
	server := startClassifyd(t, env)
	testsupport.WriteImages(t, env.imageDir, "a.jpg", "b.jpg")

	out, _, err := runCLI(t, []string{"jobs", "start", env.imageDir, "--watch", "--json", "--server", server}, env.configPath)
	if err != nil {
		t.Fatalf("jobs start --watch: %v", err)
	}
	var summary report.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if len(summary.Successes) != 2 || summary.Successes[0].Classifications[0].Label != "vehicle" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	out, _, err = runCLI(t, []string{"jobs", "list", "--json", "--server", server}, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	var jobs []classifyd.JobView
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode jobs: %v\n%s", err, out)
	}
	if len(jobs) != 1 || jobs[0].Total != 2 {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	out, _, err = runCLI(t, []string{"jobs", "watch", jobs[0].ID, "--quiet", "--server", server}, env.configPath)
	if err != nil {
		t.Fatalf("jobs watch: %v", err)
	}
	requireContains(t, out, "Vehicle (80.0%)")
}

func TestJobsRemoveUnknownJobIsNotFound(t *testing.T) {
	env := setupCLITestEnv(t)
	server := startClassifyd(t, env)

	_, _, err := runCLI(t, []string{"jobs", "remove", "missing", "--server", server}, env.configPath)
	if got := services.ExitCode(err); got != services.ExitConfiguration {
		t.Fatalf("exit code = %d, want %d (err %v)", got, services.ExitConfiguration, err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 in error, got %v", err)
	}
}
