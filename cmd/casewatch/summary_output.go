package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"casewatch/internal/fileutil"
	"casewatch/internal/jobstate"
	"casewatch/internal/monitor"
	"casewatch/internal/report"
	"casewatch/internal/services"
)

type summaryFlags struct {
	json bool
	xlsx string
}

func (f *summaryFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the summary as JSON")
	cmd.Flags().StringVar(&f.xlsx, "xlsx", "", "Also write the summary to an XLSX workbook")
}

// emitSummary renders s and returns a UnitsFailedError when any unit failed.
func emitSummary(cmd *cobra.Command, s report.Summary, flags summaryFlags) error {
	out := cmd.OutOrStdout()
	if flags.json {
		if err := report.WriteJSON(out, s); err != nil {
			return err
		}
	} else {
		if err := report.RenderTable(out, s); err != nil {
			return err
		}
	}
	if flags.xlsx != "" {
		if err := writeXLSX(flags.xlsx, s); err != nil {
			return err
		}
		if !flags.json {
			fmt.Fprintf(out, "Wrote %s\n", flags.xlsx)
		}
	}
	if n := len(s.Failures); n > 0 {
		return &services.UnitsFailedError{Failed: n, Total: s.Total}
	}
	return nil
}

func writeXLSX(path string, s report.Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create xlsx directory: %w", err)
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, s); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// writeJSON prints v as indented JSON on the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter writes one line per progress event unless quiet.
func progressPrinter(w io.Writer, quiet bool) func(monitor.Progress) {
	if quiet {
		return nil
	}
	colorize := shouldColorize(w)
	return func(p monitor.Progress) {
		fmt.Fprintln(w, renderProgressLine(p, colorize))
	}
}

func secondsDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// aggregate wraps report.Aggregate for commands.
func aggregate(r jobstate.Report) (report.Summary, error) {
	s, err := report.Aggregate(r)
	if err != nil {
		return report.Summary{}, fmt.Errorf("summarize job: %w", err)
	}
	return s, nil
}
