package main

import (
	"github.com/spf13/cobra"

	"casewatch/internal/config"
	"casewatch/internal/monitor"
	"casewatch/internal/statusstore"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var flags summaryFlags
	var maxPolls int
	var timeoutSeconds int
	var quiet bool

	cmd := &cobra.Command{
		Use:   "watch [status-file]",
		Short: "Wait for a status file to report done and summarize the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			path := cfg.StatusPath()
			if len(args) == 1 {
				expanded, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				path = expanded
			}

			opts := ctx.monitorOptions(maxPolls, timeoutSeconds)
			opts.Logger = ctx.loggerFor("casewatch")
			opts.OnProgress = progressPrinter(cmd.ErrOrStderr(), quiet || flags.json)

			report, err := monitor.WaitForCompletion(cmd.Context(), statusstore.NewFileStore(path), opts)
			if err != nil {
				return err
			}
			summary, err := aggregate(report)
			if err != nil {
				return err
			}
			return emitSummary(cmd, summary, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&maxPolls, "max-polls", 0, "Give up after this many unsuccessful polls (overrides monitor.max_polls)")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "Give up after this many seconds (overrides monitor.timeout_seconds)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress lines")
	return cmd
}
