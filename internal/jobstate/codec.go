package jobstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed marks snapshot bytes that are empty, truncated, or do not match
// the snapshot schema.
var ErrMalformed = errors.New("malformed snapshot")

const snapshotSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {
      "type": "object",
      "required": ["done", "progress", "current_item", "total"],
      "properties": {
        "done": {"type": "boolean"},
        "progress": {"type": "integer", "minimum": 0, "maximum": 100},
        "current_item": {"type": "integer", "minimum": 0},
        "total": {"type": "integer", "minimum": 0},
        "errors": {"type": "array", "items": {"type": "string"}}
      }
    },
    "results": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "maxItems": 3,
        "items": {
          "type": "object",
          "minProperties": 1,
          "maxProperties": 1,
          "additionalProperties": {"type": ["string", "number"]}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("snapshot.schema.json", snapshotSchema)
})

type wireStatus struct {
	Done        bool     `json:"done"`
	Progress    int      `json:"progress"`
	CurrentItem int      `json:"current_item"`
	Total       int      `json:"total"`
	Errors      []string `json:"errors"`
}

type wireReport struct {
	Status  wireStatus      `json:"status"`
	Results json.RawMessage `json:"results"`
}

// Encode serializes a report in the shared wire layout.
func Encode(r Report) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	errs := make([]string, 0, len(r.Status.Errors))
	for _, e := range r.Status.Errors {
		errs = append(errs, e.String())
	}
	status, err := json.Marshal(wireStatus{
		Done:        r.Status.Done,
		Progress:    r.Status.Progress,
		CurrentItem: r.Status.CurrentItem,
		Total:       r.Status.Total,
		Errors:      errs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(64 + len(status) + len(r.results)*64)
	buf.WriteString(`{"status":`)
	buf.Write(status)
	buf.WriteString(`,"results":{`)
	for i, res := range r.results {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, res.UnitID); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeOutcome(&buf, res.Outcome); err != nil {
			return nil, fmt.Errorf("encode result %q: %w", res.UnitID, err)
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeOutcome(buf *bytes.Buffer, o Outcome) error {
	buf.WriteByte('[')
	if o.Failed() {
		if err := writeEntry(buf, FailureLabel, o.Message()); err != nil {
			return err
		}
	} else {
		for i, c := range o.classes {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeEntry(buf, c.Label, strconv.FormatFloat(c.Score, 'f', -1, 64)); err != nil {
				return err
			}
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeEntry(buf *bytes.Buffer, key, value string) error {
	buf.WriteByte('{')
	if err := writeString(buf, key); err != nil {
		return err
	}
	buf.WriteByte(':')
	if err := writeString(buf, value); err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// Decode parses snapshot bytes. Anything that cannot be read as a complete
// snapshot, including empty input and counters that contradict each other,
// yields an error wrapping ErrMalformed.
func Decode(data []byte) (Report, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Report{}, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if err := validateSchema(data); err != nil {
		return Report{}, err
	}

	var wire wireReport
	if err := json.Unmarshal(data, &wire); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	results, err := decodeResults(wire.Results)
	if err != nil {
		return Report{}, fmt.Errorf("%w: results: %v", ErrMalformed, err)
	}
	report := Report{
		Status: Status{
			Total:       wire.Status.Total,
			CurrentItem: wire.Status.CurrentItem,
			Progress:    wire.Status.Progress,
			Done:        wire.Status.Done,
		},
		results: results,
	}
	failed := make([]string, 0, len(wire.Status.Errors))
	for _, res := range results {
		if res.Outcome.Failed() {
			failed = append(failed, res.UnitID)
		}
	}
	for _, raw := range wire.Status.Errors {
		report.Status.Errors = append(report.Status.Errors, ParseUnitError(raw, failed...))
	}

	// A done report missing results is kept so aggregation can report it.
	if err := report.Validate(); err != nil && !errors.Is(err, ErrIncomplete) {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return report, nil
}

func validateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile snapshot schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// decodeResults walks the results object token by token so the producer's
// insertion order survives.
func decodeResults(raw json.RawMessage) ([]Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var results []Result
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		unitID, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", tok)
		}
		if _, dup := seen[unitID]; dup {
			return nil, fmt.Errorf("duplicate unit %q", unitID)
		}
		seen[unitID] = struct{}{}

		var entries []map[string]any
		if err := dec.Decode(&entries); err != nil {
			return nil, fmt.Errorf("unit %q: %w", unitID, err)
		}
		outcome, err := outcomeFromEntries(entries)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", unitID, err)
		}
		results = append(results, Result{UnitID: unitID, Outcome: outcome})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return results, nil
}

// EncodeOutcome renders a single unit's outcome as its wire entry list, for
// example [{"cat":"0.91"}] or [{"ERROR":"decode error"}].
func EncodeOutcome(o Outcome) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeOutcome(&buf, o); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOutcome parses a single unit's wire entry list.
func DecodeOutcome(data []byte) (Outcome, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entries []map[string]any
	if err := dec.Decode(&entries); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	outcome, err := outcomeFromEntries(entries)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return outcome, nil
}

func outcomeFromEntries(entries []map[string]any) (Outcome, error) {
	classes := make([]Classification, 0, len(entries))
	for _, entry := range entries {
		if len(entry) != 1 {
			return Outcome{}, fmt.Errorf("entry has %d labels, want 1", len(entry))
		}
		for label, value := range entry {
			text := scalarText(value)
			if label == FailureLabel {
				return Failure(text), nil
			}
			score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return Outcome{}, fmt.Errorf("label %q: score %q is not a number", label, text)
			}
			classes = append(classes, Classification{Label: label, Score: score})
		}
	}
	return Success(classes...), nil
}

func scalarText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
