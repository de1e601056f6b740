package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"casewatch/internal/export"
	"casewatch/internal/logging"
	"casewatch/internal/notifications"
	"casewatch/internal/restapi"
	"casewatch/internal/services"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Tag, export and untag case items in pages",
	}
	exportCmd.AddCommand(newExportTagCommand(ctx))
	exportCmd.AddCommand(newExportRunCommand(ctx))
	exportCmd.AddCommand(newExportUntagCommand(ctx))
	return exportCmd
}

// withSession opens the configured case, runs fn and always closes the
// session, even when the command context was cancelled.
func withSession(cmd *cobra.Command, ctx *commandContext, fn func(*export.Session) error) (err error) {
	cfg := ctx.configValue()
	logger := ctx.loggerFor("casewatch")
	client := restapi.NewClient(restapi.ConfigFrom(cfg), restapi.WithLogger(logger))

	session, err := export.Open(cmd.Context(), client, cfg.REST.CaseName, export.OptionsFrom(cfg, logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(context.WithoutCancel(cmd.Context())); closeErr != nil {
			logger.Warn("failed to close case session",
				logging.Error(closeErr),
				logging.Event("export_close_failed"),
			)
			if err == nil {
				err = closeErr
			}
		}
	}()
	return fn(session)
}

func newExportTagCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Tag every case item with a dated per-page export tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(session *export.Session) error {
				summary, err := session.TagForExport(cmd.Context())
				if err != nil {
					return err
				}
				ctx.notify(cmd, func(nctx context.Context, svc notifications.Service) error {
					return svc.NotifyTaggingCompleted(nctx, summary.Date, summary.Tagged, len(summary.Failures), summary.Pages)
				})
				if asJSON {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Tagged %d of %d items across %d pages (%s)\n",
						summary.Tagged, summary.Count, summary.Pages, summary.Date)
					for _, tag := range summary.Tags {
						fmt.Fprintf(out, "  %s\n", tag)
					}
					if len(summary.Failures) > 0 {
						rows := make([][]string, 0, len(summary.Failures))
						for _, f := range summary.Failures {
							rows = append(rows, []string{f.GUID, f.Message})
						}
						fmt.Fprintln(out, renderTable([]string{"GUID", "Error"}, rows, nil))
					}
				}
				if n := len(summary.Failures); n > 0 {
					return &services.UnitsFailedError{Failed: n, Total: summary.Count}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the tagging summary as JSON")
	return cmd
}

func newExportRunCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <YYYY.MM.DD> <page>",
		Short: "Export the items tagged for one page and wait for the export to finish",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := export.ParseTagDate(args[0])
			if err != nil {
				return services.Wrap(services.ErrValidation, "export", "args", "", err)
			}
			page, err := strconv.Atoi(args[1])
			if err != nil {
				return services.Wrap(services.ErrValidation, "export", "args", fmt.Sprintf("page %q is not a number", args[1]), nil)
			}
			return withSession(cmd, ctx, func(session *export.Session) error {
				result, err := session.ExportTagged(cmd.Context(), date, page, progressPrinter(cmd.ErrOrStderr(), quiet || asJSON))
				if err != nil {
					return err
				}
				ctx.notify(cmd, func(nctx context.Context, svc notifications.Service) error {
					return svc.NotifyExportCompleted(nctx, result.Tag, result.Count, result.Subfolder)
				})
				if asJSON {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d items tagged %s to %s\n", result.Count, result.Tag, result.Subfolder)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the export result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress lines")
	return cmd
}

func newExportUntagCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "untag",
		Short: "Remove all export tags from the case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, ctx, func(session *export.Session) error {
				summary, err := session.RemoveExportTags(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, summary); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Removed %d export tags\n", len(summary.Tags)-len(summary.Failures))
					for _, f := range summary.Failures {
						fmt.Fprintf(out, "  %s: %s\n", f.Tag, f.Message)
					}
				}
				if n := len(summary.Failures); n > 0 {
					return &services.UnitsFailedError{Failed: n, Total: len(summary.Tags)}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the cleanup summary as JSON")
	return cmd
}
