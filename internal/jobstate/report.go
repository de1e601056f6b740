package jobstate

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// MaxClassifications caps the number of labels kept per successful unit.
const MaxClassifications = 3

// FailureLabel is the reserved label marking a failed unit on the wire.
const FailureLabel = "ERROR"

var (
	// ErrFinalized is returned when a done report is asked to change.
	ErrFinalized = errors.New("report already done")
	// ErrDuplicateUnit is returned when a unit outcome is recorded twice.
	ErrDuplicateUnit = errors.New("unit already recorded")
	// ErrTooManyUnits is returned when more outcomes are recorded than the job total.
	ErrTooManyUnits = errors.New("outcome exceeds job total")
	// ErrIncomplete is returned when a report is marked done before every unit has an outcome.
	ErrIncomplete = errors.New("results incomplete")
)

// Classification is one predicted label and its score.
type Classification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Outcome is the result of processing a single unit: either a success carrying
// up to MaxClassifications labels or a failure carrying a message.
type Outcome struct {
	classes []Classification
	message string
	failed  bool
}

// Success builds a successful outcome. Labels beyond MaxClassifications are dropped.
func Success(classes ...Classification) Outcome {
	if len(classes) > MaxClassifications {
		classes = classes[:MaxClassifications]
	}
	return Outcome{classes: slices.Clone(classes)}
}

// Failure builds a failed outcome.
func Failure(message string) Outcome {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return Outcome{message: message, failed: true}
}

// Failed reports whether the unit failed.
func (o Outcome) Failed() bool {
	return o.failed
}

// Message returns the failure message, empty for successes.
func (o Outcome) Message() string {
	return o.message
}

// Classifications returns a copy of the labels of a successful outcome.
func (o Outcome) Classifications() []Classification {
	return slices.Clone(o.classes)
}

// UnitError records a failed unit in the status error list.
type UnitError struct {
	UnitID  string
	Message string
}

func (e UnitError) String() string {
	if e.UnitID == "" {
		return e.Message
	}
	return e.UnitID + ": " + e.Message
}

// ParseUnitError splits an "id: message" string back into its parts. The
// longest of knownIDs that prefixes raw is taken as the unit ID, so IDs that
// themselves contain ": " survive; otherwise raw is split at the first ": ".
func ParseUnitError(raw string, knownIDs ...string) UnitError {
	best := ""
	for _, id := range knownIDs {
		if len(id) > len(best) && strings.HasPrefix(raw, id+": ") {
			best = id
		}
	}
	if best != "" {
		return UnitError{UnitID: best, Message: raw[len(best)+2:]}
	}
	id, msg, ok := strings.Cut(raw, ": ")
	if !ok {
		return UnitError{Message: raw}
	}
	return UnitError{UnitID: id, Message: msg}
}

// Status is the progress portion of a report.
type Status struct {
	Total       int
	CurrentItem int
	Progress    int
	Done        bool
	Errors      []UnitError
}

// Result is one recorded unit outcome.
type Result struct {
	UnitID  string
	Outcome Outcome
}

// Report is an immutable snapshot of a job: its status plus every unit outcome
// recorded so far, in the order the producer recorded them.
type Report struct {
	Status  Status
	results []Result
}

// NewReport starts a report for a job of total units. A zero total is a valid
// empty job.
func NewReport(total int) Report {
	if total < 0 {
		total = 0
	}
	return Report{Status: Status{Total: total}}
}

// PercentOf returns floor(current*100/total) clamped to [0,100]. An empty job
// reports 0 until it is done.
func PercentOf(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return current * 100 / total
}

// Len returns the number of recorded outcomes.
func (r Report) Len() int {
	return len(r.results)
}

// Results returns a copy of the recorded outcomes in insertion order.
func (r Report) Results() []Result {
	return slices.Clone(r.results)
}

// Lookup returns the outcome recorded for unitID.
func (r Report) Lookup(unitID string) (Outcome, bool) {
	for _, res := range r.results {
		if res.UnitID == unitID {
			return res.Outcome, true
		}
	}
	return Outcome{}, false
}

// WithStarted returns a new report marking the 1-based unit index as started.
// The current item never moves backwards.
func (r Report) WithStarted(index int) (Report, error) {
	if r.Status.Done {
		return r, ErrFinalized
	}
	if index < 1 || index > r.Status.Total {
		return r, fmt.Errorf("unit index %d outside [1,%d]", index, r.Status.Total)
	}
	if index <= r.Status.CurrentItem {
		return r, nil
	}
	next := r.clone()
	next.Status.CurrentItem = index
	next.Status.Progress = PercentOf(index, next.Status.Total)
	return next, nil
}

// WithOutcome returns a new report with the unit's outcome appended. Failures
// are also added to the status error list. The current item advances to the
// number of recorded units.
func (r Report) WithOutcome(unitID string, outcome Outcome) (Report, error) {
	if r.Status.Done {
		return r, ErrFinalized
	}
	if _, exists := r.Lookup(unitID); exists {
		return r, fmt.Errorf("%w: %s", ErrDuplicateUnit, unitID)
	}
	if len(r.results) >= r.Status.Total {
		return r, fmt.Errorf("%w: %d of %d", ErrTooManyUnits, len(r.results)+1, r.Status.Total)
	}

	next := r.clone()
	next.results = append(next.results, Result{UnitID: unitID, Outcome: outcome})
	if outcome.Failed() {
		next.Status.Errors = append(next.Status.Errors, UnitError{UnitID: unitID, Message: outcome.Message()})
	}
	if n := len(next.results); n > next.Status.CurrentItem {
		next.Status.CurrentItem = n
	}
	next.Status.Progress = PercentOf(next.Status.CurrentItem, next.Status.Total)
	return next, nil
}

// WithDone returns the final report. Every unit must already have an outcome.
func (r Report) WithDone() (Report, error) {
	if r.Status.Done {
		return r, nil
	}
	if len(r.results) != r.Status.Total {
		return r, fmt.Errorf("%w: %d of %d units recorded", ErrIncomplete, len(r.results), r.Status.Total)
	}
	next := r.clone()
	next.Status.Done = true
	next.Status.CurrentItem = next.Status.Total
	next.Status.Progress = 100
	return next, nil
}

// Validate checks the structural invariants of a snapshot.
func (r Report) Validate() error {
	s := r.Status
	switch {
	case s.Total < 0:
		return fmt.Errorf("total %d is negative", s.Total)
	case s.CurrentItem < 0 || s.CurrentItem > s.Total:
		return fmt.Errorf("current item %d outside [0,%d]", s.CurrentItem, s.Total)
	case s.Progress < 0 || s.Progress > 100:
		return fmt.Errorf("progress %d outside [0,100]", s.Progress)
	case len(r.results) > s.Total:
		return fmt.Errorf("%d results for %d units", len(r.results), s.Total)
	}
	if s.Done {
		if s.Progress != 100 {
			return fmt.Errorf("done report has progress %d", s.Progress)
		}
		if len(r.results) != s.Total {
			return fmt.Errorf("%w: done with %d of %d units recorded", ErrIncomplete, len(r.results), s.Total)
		}
	}
	return nil
}

// Equal reports whether two snapshots carry the same status and results.
func (r Report) Equal(other Report) bool {
	a, b := r.Status, other.Status
	if a.Total != b.Total || a.CurrentItem != b.CurrentItem || a.Progress != b.Progress || a.Done != b.Done {
		return false
	}
	if !slices.Equal(a.Errors, b.Errors) {
		return false
	}
	return slices.EqualFunc(r.results, other.results, func(x, y Result) bool {
		return x.UnitID == y.UnitID &&
			x.Outcome.failed == y.Outcome.failed &&
			x.Outcome.message == y.Outcome.message &&
			slices.Equal(x.Outcome.classes, y.Outcome.classes)
	})
}

func (r Report) clone() Report {
	next := r
	next.Status.Errors = slices.Clone(r.Status.Errors)
	next.results = slices.Clone(r.results)
	return next
}
