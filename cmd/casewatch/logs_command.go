package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"casewatch/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var filter logs.Filter

	cmd := &cobra.Command{
		Use:   "logs [casewatch|classifyd]",
		Short: "Print recent log lines, optionally following new ones",
		Args:  cobra.MaximumNArgs(1),
		ValidArgs: []string{
			"casewatch",
			"classifyd",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "casewatch"
			if len(args) == 1 {
				name = args[0]
			}
			path := logs.Path(ctx.configValue(), name)
			out := cmd.OutOrStdout()

			recent, offset, err := logs.Last(path, lines, filter)
			if err != nil {
				return err
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of recent lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&filter.JobID, "job", "", "Only lines for this job ID")
	cmd.Flags().StringVar(&filter.CaseID, "case", "", "Only lines for this case ID")
	cmd.Flags().StringVar(&filter.Level, "level", "", "Only lines containing this level (e.g. WARN)")
	return cmd
}
