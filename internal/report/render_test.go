package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestDisplayLabel(t *testing.T) {
	tests := map[string]string{
		"golden_retriever": "Golden Retriever",
		"tabby-cat":        "Tabby Cat",
		"  ":               "(none)",
	}
	for in, want := range tests {
		if got := DisplayLabel(in); got != want {
			t.Errorf("DisplayLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	s, err := Aggregate(scenarioReport(t))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	var buf bytes.Buffer
	if err := RenderTable(&buf, s); err != nil {
		t.Fatalf("RenderTable: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"TOP 1", "Cat (91.0%)", "Fox (12.0%)", "decode error", "3 units: 2 classified, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	s, err := Aggregate(scenarioReport(t))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, s); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded Summary
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Successes) != 2 || decoded.Successes[1].Classifications[0].Label != "dog" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestWriteXLSX(t *testing.T) {
	s, err := Aggregate(scenarioReport(t))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, s); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("results rows = %d, want header + 2", len(rows))
	}
	if rows[1][0] != "unit1" || rows[1][2] != "cat" {
		t.Fatalf("first result row = %v", rows[1])
	}
	if got := rows[2][len(rows[2])-1]; got != "dog:77.0%;fox:12.0%" {
		t.Fatalf("metadata cell = %q", got)
	}

	failures, err := f.GetRows(failuresSheet)
	if err != nil {
		t.Fatalf("GetRows failures: %v", err)
	}
	if len(failures) != 2 || failures[1][2] != "decode error" {
		t.Fatalf("failure rows = %v", failures)
	}
}
