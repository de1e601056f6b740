package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"casewatch/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var skipREST bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			lines := renderSectionHeader("Configuration", colorize)
			configPath := ctx.configPath
			if configPath == "" {
				configPath = "defaults"
			}
			lines = append(lines,
				renderStatusLine("Config", statusInfo, configPath, colorize),
				renderStatusLine("Status file", statusInfo, cfg.StatusPath(), colorize),
				renderStatusLine("Classifier", statusInfo, classifierBackend(cfg.Classifier.ServiceURL, cfg.Classifier.Command), colorize),
				renderStatusLine("Case service", statusInfo, cfg.RESTServiceURL(), colorize),
				renderStatusLine("Case", statusInfo, valueOr(cfg.REST.CaseName, "not set"), colorize),
				renderStatusLine("API token", statusInfo, yesNo(cfg.Service.APIToken != ""), colorize),
				renderStatusLine("Notifications", statusInfo, valueOr(cfg.Notifications.NtfyTopic, "disabled"), colorize),
				"",
			)

			lines = append(lines, renderSectionHeader("Health", colorize)...)
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Scope{Classifier: true, REST: !skipREST})
			lines = append(lines, renderPreflight(results, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipREST, "skip-case-service", false, "Do not probe the case-management service")
	return cmd
}

func classifierBackend(serviceURL string, command []string) string {
	switch {
	case serviceURL != "":
		return serviceURL
	case len(command) > 0:
		return strings.Join(command, " ")
	default:
		return "not configured"
	}
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
