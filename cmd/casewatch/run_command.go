package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"casewatch/internal/batch"
	"casewatch/internal/config"
	"casewatch/internal/preflight"
	"casewatch/internal/services"
	"casewatch/internal/supervise"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags summaryFlags
	var maxPolls int
	var timeoutSeconds int
	var keep bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <image|dir>...",
		Short: "Stage images, classify them in a child process and summarize the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			logger := ctx.loggerFor("casewatch")

			checks := preflight.RunAll(cmd.Context(), cfg, preflight.Scope{Classifier: true})
			if failed := preflight.Failed(checks); len(failed) > 0 {
				return services.Wrap(services.ErrConfiguration, "run", "preflight",
					fmt.Sprintf("%s: %s", failed[0].Name, failed[0].Detail), nil)
			}

			inputs, err := collectInputs(cmd.Context(), args, cfg.Classifier.Extensions)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate casewatch executable: %w", err)
			}

			runDir, statusPath := runPaths(cfg.Paths.WorkDir, uuid.NewString())
			command := []string{exe, "classify", runDir, "--status", statusPath}
			if ctx.configPath != "" {
				command = append(command, "--config", ctx.configPath)
			}

			opts := ctx.monitorOptions(maxPolls, timeoutSeconds)
			opts.OnProgress = progressPrinter(cmd.ErrOrStderr(), quiet || flags.json)
			res, err := supervise.Run(cmd.Context(), supervise.Options{
				Inputs:     inputs,
				WorkDir:    runDir,
				StatusPath: statusPath,
				Command:    command,
				Monitor:    opts,
				Cleanup:    !keep,
				Logger:     logger,
			})
			if res.Detached {
				fmt.Fprintf(cmd.ErrOrStderr(), "producer %d is still running; follow it with: casewatch watch %s\n", res.PID, statusPath)
				return err
			}
			if !keep {
				_ = os.Remove(runDir)
			}
			if err != nil {
				return err
			}
			return emitSummary(cmd, res.Summary, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&maxPolls, "max-polls", 0, "Give up after this many unsuccessful polls")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Give up after this many seconds")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the staged copies after the run")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress lines")
	return cmd
}

// runPaths returns the staging directory and status snapshot for one run.
// Concurrent runs never share a snapshot. The snapshot and its producer
// output log are left in place as the run's record.
func runPaths(workDir, runID string) (runDir, statusPath string) {
	base := filepath.Join(workDir, "run-"+runID)
	return base, base + ".status.json"
}

// collectInputs expands directories into their matching image files.
func collectInputs(ctx context.Context, args []string, extensions []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "args", "", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "args", "", err)
		}
		if !info.IsDir() {
			inputs = append(inputs, path)
			continue
		}
		src := batch.NewFolderSource(path, extensions)
		if _, err := src.Count(ctx); err != nil {
			return nil, services.Wrap(services.ErrValidation, "cli", "args", "", err)
		}
		for unit := range src.Units(ctx) {
			inputs = append(inputs, unit.ID)
		}
	}
	if len(inputs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "cli", "args", "no images found", nil)
	}
	return inputs, nil
}
