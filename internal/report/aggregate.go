// Package report turns a finished job snapshot into the caller-facing result:
// ordered successes, failures, and renderings for terminals, JSON and XLSX.
package report

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"casewatch/internal/jobstate"
)

// Success is a unit that was classified.
type Success struct {
	UnitID          string                    `json:"unit_id"`
	Classifications []jobstate.Classification `json:"classifications"`
}

// Failure is a unit that could not be processed.
type Failure struct {
	UnitID  string `json:"unit_id"`
	Message string `json:"message"`
}

// Summary is the aggregated view of a job. Successes follow the order in
// which the producer recorded them.
type Summary struct {
	Total     int       `json:"total"`
	Done      bool      `json:"done"`
	Successes []Success `json:"successes"`
	Failures  []Failure `json:"failures"`
}

// Aggregate splits the report's results into successes and failures. A done
// report missing results for some units is a producer bug and is returned as
// an error wrapping jobstate.ErrIncomplete. Aggregating a report that is not
// done yields the partial view recorded so far.
func Aggregate(r jobstate.Report) (Summary, error) {
	if r.Status.Done && r.Len() != r.Status.Total {
		return Summary{}, fmt.Errorf("aggregate: %w: %d of %d units have results",
			jobstate.ErrIncomplete, r.Len(), r.Status.Total)
	}
	s := Summary{
		Total:     r.Status.Total,
		Done:      r.Status.Done,
		Successes: []Success{},
		Failures:  []Failure{},
	}
	for _, res := range r.Results() {
		if res.Outcome.Failed() {
			s.Failures = append(s.Failures, Failure{UnitID: res.UnitID, Message: res.Outcome.Message()})
			continue
		}
		s.Successes = append(s.Successes, Success{UnitID: res.UnitID, Classifications: res.Outcome.Classifications()})
	}
	return s, nil
}

// Lookup returns the classifications recorded for a successful unit.
func (s Summary) Lookup(unitID string) ([]jobstate.Classification, bool) {
	for _, succ := range s.Successes {
		if succ.UnitID == unitID {
			return succ.Classifications, true
		}
	}
	return nil, false
}

// OK reports whether every unit succeeded.
func (s Summary) OK() bool {
	return len(s.Failures) == 0
}

// MetadataValue renders classifications as "label:91.0%;label:12.34%", the
// custom-metadata format used for top-3 image classifications.
func MetadataValue(classes []jobstate.Classification) string {
	parts := make([]string, 0, len(classes))
	for _, c := range classes {
		parts = append(parts, c.Label+":"+formatPercent(c.Score)+"%")
	}
	return strings.Join(parts, ";")
}

func formatPercent(score float64) string {
	pct := math.Round(score*10000) / 100
	if pct == math.Trunc(pct) {
		return strconv.FormatFloat(pct, 'f', 1, 64)
	}
	return strconv.FormatFloat(pct, 'f', -1, 64)
}

var guidPattern = regexp.MustCompile(`(?i)([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\.jpe?g$`)

// ItemGUID extracts the item GUID from a unit ID when the unit is an image
// exported with GUID naming.
func ItemGUID(unitID string) (string, bool) {
	m := guidPattern.FindStringSubmatch(unitID)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}
