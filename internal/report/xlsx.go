package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet  = "Results"
	failuresSheet = "Failures"
)

// WriteXLSX writes the summary as a workbook with a Results sheet (one row per
// classified unit) and a Failures sheet.
func WriteXLSX(w io.Writer, s Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}
	if _, err := f.NewSheet(failuresSheet); err != nil {
		return fmt.Errorf("xlsx add sheet: %w", err)
	}

	resultHeaders := []string{"Unit", "GUID", "Label 1", "Score 1", "Label 2", "Score 2", "Label 3", "Score 3", "Metadata"}
	if err := writeRow(f, resultsSheet, 1, toAny(resultHeaders)); err != nil {
		return err
	}
	for i, succ := range s.Successes {
		guid, _ := ItemGUID(succ.UnitID)
		row := []any{succ.UnitID, guid}
		for j := 0; j < 3; j++ {
			if j < len(succ.Classifications) {
				row = append(row, succ.Classifications[j].Label, succ.Classifications[j].Score)
			} else {
				row = append(row, "", "")
			}
		}
		row = append(row, MetadataValue(succ.Classifications))
		if err := writeRow(f, resultsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, failuresSheet, 1, []any{"Unit", "GUID", "Error"}); err != nil {
		return err
	}
	for i, fail := range s.Failures {
		guid, _ := ItemGUID(fail.UnitID)
		if err := writeRow(f, failuresSheet, i+2, []any{fail.UnitID, guid, fail.Message}); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 60)
	_ = f.SetColWidth(resultsSheet, "B", "B", 38)
	_ = f.SetColWidth(resultsSheet, "C", "H", 16)
	_ = f.SetColWidth(resultsSheet, "I", "I", 48)
	_ = f.SetColWidth(failuresSheet, "A", "A", 60)
	_ = f.SetColWidth(failuresSheet, "B", "B", 38)
	_ = f.SetColWidth(failuresSheet, "C", "C", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("xlsx set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
