package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

func String(key, value string) slog.Attr { return slog.String(key, value) }

func Int(key string, value int) slog.Attr { return slog.Int(key, value) }

func Int64(key string, value int64) slog.Attr { return slog.Int64(key, value) }

func Duration(key string, value time.Duration) slog.Attr { return slog.Duration(key, value) }

// Error records err under the "error" key. A nil error is logged as "<nil>"
// so call sites never need to guard.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Job, Unit, Case and Function tag a line with the identifiers the console
// handler and `casewatch logs` filter on.
func Job(id string) slog.Attr { return slog.String(FieldJobID, id) }

func Unit(id string) slog.Attr { return slog.String(FieldUnitID, id) }

func Case(id string) slog.Attr { return slog.String(FieldCaseID, id) }

func Function(key string) slog.Attr { return slog.String(FieldFunctionKey, key) }

func Event(kind string) slog.Attr { return slog.String(FieldEventType, kind) }

func Hint(text string) slog.Attr { return slog.String(FieldErrorHint, text) }

func Impact(text string) slog.Attr { return slog.String(FieldImpact, text) }

// ShortID returns the first group of a UUID and any other identifier
// unchanged.
func ShortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) == 36 && strings.Count(id, "-") == 4 {
		return id[:8]
	}
	return id
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with a component name. A nil logger yields
// a no-op logger with the tag.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

const (
	defaultHint        = "run `casewatch logs` for the surrounding lines"
	defaultWarnImpact  = "work continues with reduced results"
	defaultErrorImpact = ""
)

// WarnWithContext logs an operator-facing warning. event_type, error_hint and
// impact are filled in when the caller did not supply them.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...slog.Attr) {
	logTriaged(logger, slog.LevelWarn, msg, eventType, defaultWarnImpact, attrs)
}

// ErrorWithContext logs an operator-facing error with event_type and
// error_hint filled in when missing.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...slog.Attr) {
	logTriaged(logger, slog.LevelError, msg, eventType, defaultErrorImpact, attrs)
}

func logTriaged(logger *slog.Logger, level slog.Level, msg, eventType, impact string, attrs []slog.Attr) {
	if logger == nil {
		return
	}
	present := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		present[a.Key] = true
	}
	if !present[FieldEventType] {
		attrs = append(attrs, Event(eventType))
	}
	if !present[FieldErrorHint] {
		attrs = append(attrs, Hint(defaultHint))
	}
	if impact != "" && !present[FieldImpact] {
		attrs = append(attrs, Impact(impact))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
