package preflight

import (
	"context"

	"casewatch/internal/config"
	"casewatch/internal/restapi"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Scope selects which checks RunAll performs.
type Scope struct {
	Classifier bool
	REST       bool
}

// RunAll executes the checks in scope for the given config. The work
// directory is always checked.
func RunAll(ctx context.Context, cfg *config.Config, scope Scope) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir)}

	if scope.Classifier {
		switch {
		case cfg.Classifier.ServiceURL != "":
			results = append(results, CheckClassifierService(ctx, cfg.Classifier.ServiceURL))
		case len(cfg.Classifier.Command) > 0:
			results = append(results, CheckClassifierCommand(cfg.Classifier.Command))
		default:
			results = append(results, Result{Name: "Classifier", Detail: "not configured"})
		}
	}

	if scope.REST {
		results = append(results, CheckRESTService(ctx, restapi.ConfigFrom(cfg)))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
