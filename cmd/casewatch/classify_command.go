package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"casewatch/internal/batch"
	"casewatch/internal/classifier"
	"casewatch/internal/config"
	"casewatch/internal/logging"
	"casewatch/internal/services"
	"casewatch/internal/statusstore"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var statusPath string
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "classify <dir>",
		Short: "Classify every image in a directory, publishing progress to the status file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			logger := ctx.loggerFor("casewatch")

			dir, err := resolveDir(args[0])
			if err != nil {
				return err
			}
			cls, err := classifier.FromConfig(cfg)
			if err != nil {
				return services.Wrap(services.ErrConfiguration, "classify", "setup", "", err)
			}

			if statusPath == "" {
				statusPath = cfg.StatusPath()
			}
			var writerOpts []statusstore.WriterOption
			if !cfg.Monitor.AtomicWrites {
				writerOpts = append(writerOpts, statusstore.WithInPlaceWrites())
			}
			writer, err := statusstore.NewFileWriter(statusPath, writerOpts...)
			if err != nil {
				return fmt.Errorf("open status file: %w", err)
			}
			defer writer.Close()

			jobID := uuid.NewString()
			report, err := batch.Run(cmd.Context(), batch.NewFolderSource(dir, cfg.Classifier.Extensions), cls, writer, batch.Options{
				JobID:         jobID,
				VerifyImages:  !skipVerify,
				AnnounceStart: true,
				Logger:        logger,
				Sampler:       logging.NewProgressSampler(cfg.Monitor.ProgressBucket),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Classified %d units (%d failed); status written to %s\n",
				report.Status.Total, len(report.Status.Errors), writer.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&statusPath, "status", "", "Status file to publish (defaults to <work_dir>/<status_file>)")
	cmd.Flags().BoolVar(&skipVerify, "no-verify", false, "Pass images to the classifier without decoding them first")
	return cmd
}

func resolveDir(raw string) (string, error) {
	dir, err := config.ExpandPath(raw)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "cli", "args", "", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "cli", "args", "", err)
	}
	if !info.IsDir() {
		return "", services.Wrap(services.ErrValidation, "cli", "args", dir+" is not a directory", nil)
	}
	return dir, nil
}
