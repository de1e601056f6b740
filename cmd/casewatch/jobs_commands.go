package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"casewatch/internal/classifyd"
	"casewatch/internal/config"
	"casewatch/internal/monitor"
	"casewatch/internal/statusstore"
)

// jobStatusFailures bounds consecutive failed snapshot fetches while watching
// a remote job.
const jobStatusFailures = 5

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var server string

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage classification jobs on a running classifyd",
	}
	jobsCmd.PersistentFlags().StringVar(&server, "server", "", "classifyd base URL (defaults to http://<service.bind>)")

	client := func() *classifyd.Client {
		cfg := ctx.configValue()
		base := strings.TrimSpace(server)
		if base == "" {
			base = "http://" + cfg.Service.Bind
		}
		return classifyd.NewClient(base, classifyd.WithToken(cfg.Service.APIToken))
	}

	jobsCmd.AddCommand(newJobsStartCommand(ctx, client))
	jobsCmd.AddCommand(newJobsListCommand(client))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx, client))
	jobsCmd.AddCommand(newJobsRemoveCommand(client))
	return jobsCmd
}

func newJobsStartCommand(ctx *commandContext, client func() *classifyd.Client) *cobra.Command {
	var watch bool
	var flags summaryFlags

	cmd := &cobra.Command{
		Use:   "start <dir>",
		Short: "Start a classification job for a directory visible to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			c := client()
			job, err := c.CreateJob(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if !watch {
				if flags.json {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started job %s for %s\n", job.ID, job.Dir)
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Started job %s\n", job.ID)
			return watchRemoteJob(cmd, ctx, c, job.ID, flags, false)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Wait for the job and print its summary")
	flags.register(cmd)
	return cmd
}

func newJobsListCommand(client func() *classifyd.Client) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := client().ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Status,
					fmt.Sprintf("%d/%d", job.CurrentItem, job.Total),
					strconv.Itoa(job.Progress) + "%",
					job.Dir,
					job.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Units", "Progress", "Directory", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, done, failed)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")
	return cmd
}

func newJobsWatchCommand(ctx *commandContext, client func() *classifyd.Client) *cobra.Command {
	var flags summaryFlags
	var quiet bool

	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Wait for a job to finish and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRemoteJob(cmd, ctx, client(), args[0], flags, quiet)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress lines")
	return cmd
}

func newJobsRemoveCommand(client func() *classifyd.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().DeleteJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}
}

// watchRemoteJob polls the job snapshot until done, then prints the summary
// computed from the final snapshot.
func watchRemoteJob(cmd *cobra.Command, ctx *commandContext, c *classifyd.Client, id string, flags summaryFlags, quiet bool) error {
	opts := ctx.monitorOptions(0, 0)
	opts.JobID = id
	opts.Logger = ctx.loggerFor("casewatch")
	opts.OnProgress = progressPrinter(cmd.ErrOrStderr(), quiet || flags.json)

	store := c.JobStore(id, statusstore.WithMaxConsecutiveFailures(jobStatusFailures))
	final, err := monitor.WaitForCompletion(cmd.Context(), store, opts)
	if err != nil {
		return err
	}
	summary, err := aggregate(final)
	if err != nil {
		return err
	}
	return emitSummary(cmd, summary, flags)
}
