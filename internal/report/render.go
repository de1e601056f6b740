package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayLabel turns a model label such as "golden_retriever" into
// "Golden Retriever".
func DisplayLabel(label string) string {
	label = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(label))
	if label == "" {
		return "(none)"
	}
	return cases.Title(language.English).String(label)
}

// RenderTable writes the summary as two tables: classified units, then
// failures when there are any.
func RenderTable(w io.Writer, s Summary) error {
	rows := make([][]string, 0, len(s.Successes))
	for _, succ := range s.Successes {
		row := []string{filepath.Base(succ.UnitID)}
		for i := 0; i < 3; i++ {
			if i < len(succ.Classifications) {
				c := succ.Classifications[i]
				row = append(row, fmt.Sprintf("%s (%s%%)", DisplayLabel(c.Label), formatPercent(c.Score)))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		out := renderTable(
			[]string{"Unit", "Top 1", "Top 2", "Top 3"},
			rows,
			[]text.Align{text.AlignLeft, text.AlignLeft, text.AlignLeft, text.AlignLeft},
		)
		if _, err := fmt.Fprintln(w, out); err != nil {
			return err
		}
	}

	if len(s.Failures) > 0 {
		failRows := make([][]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			failRows = append(failRows, []string{filepath.Base(f.UnitID), f.Message})
		}
		out := renderTable([]string{"Failed unit", "Error"}, failRows, []text.Align{text.AlignLeft, text.AlignLeft})
		if _, err := fmt.Fprintln(w, out); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%d units: %d classified, %d failed\n", s.Total, len(s.Successes), len(s.Failures))
	return err
}

func renderTable(headers []string, rows [][]string, aligns []text.Align) string {
	columns := len(headers)
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) {
			align = aligns[i]
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// WriteJSON writes the summary as indented JSON.
func WriteJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
