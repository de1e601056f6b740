package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO batch[0f8fad5b]: unit failed unit_id=c.jpg reason="decode image: ..."
//
// The component and job id move into the line prefix; everything else is
// rendered as key=value pairs in the order it was added.
type consoleHandler struct {
	out       *lockedWriter
	level     slog.Level
	addSource bool
	origin    lineOrigin
	groups    string // dotted key prefix from WithGroup
	preset    []byte // pre-rendered WithAttrs pairs
}

type lineOrigin struct {
	component string
	jobID     string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	return &consoleHandler{
		out:       &lockedWriter{w: w},
		level:     level,
		addSource: level <= slog.LevelDebug,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.preset = slices.Clone(h.preset)
	for _, a := range attrs {
		clone.preset = appendAttr(clone.preset, &clone.origin, h.groups, a)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = h.groups + name + "."
	return &clone
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	origin := h.origin
	var pairs []byte
	r.Attrs(func(a slog.Attr) bool {
		pairs = appendAttr(pairs, &origin, h.groups, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := make([]byte, 0, 96+len(h.preset)+len(pairs))
	line = ts.UTC().AppendFormat(line, time.RFC3339)
	line = append(line, ' ')
	line = append(line, levelLabel(r.Level)...)
	line = append(line, ' ')
	line = origin.appendTo(line)
	if msg := strings.TrimSpace(r.Message); msg != "" {
		line = append(line, msg...)
	} else {
		line = append(line, "(no message)"...)
	}
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		line = fmt.Appendf(line, " [%s:%d]", filepath.Base(frame.File), frame.Line)
	}
	line = append(line, h.preset...)
	line = append(line, pairs...)
	line = append(line, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(line)
	return err
}

func (o lineOrigin) appendTo(line []byte) []byte {
	if o.component == "" && o.jobID == "" {
		return line
	}
	line = append(line, o.component...)
	if o.jobID != "" {
		line = append(line, '[')
		line = append(line, ShortID(o.jobID)...)
		line = append(line, ']')
	}
	return append(line, ": "...)
}

// appendAttr renders a as " key=value", flattening groups. Top-level
// component and job_id attrs are captured into origin instead; the latest
// value wins.
func appendAttr(dst []byte, origin *lineOrigin, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, member := range a.Value.Group() {
			dst = appendAttr(dst, origin, inner, member)
		}
		return dst
	}
	if prefix == "" {
		switch a.Key {
		case FieldComponent:
			origin.component = a.Value.String()
			return dst
		case FieldJobID:
			origin.jobID = a.Value.String()
			return dst
		}
	}
	dst = append(dst, ' ')
	dst = append(dst, prefix...)
	dst = append(dst, a.Key...)
	dst = append(dst, '=')
	return appendValue(dst, a.Value)
}

func appendValue(dst []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendText(dst, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(dst, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(dst, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(dst, v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(dst, v.Bool())
	case slog.KindDuration:
		return append(dst, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().UTC().AppendFormat(dst, time.RFC3339)
	}
	if err, ok := v.Any().(error); ok {
		return appendText(dst, err.Error())
	}
	return appendText(dst, fmt.Sprint(v.Any()))
}

func appendText(dst []byte, s string) []byte {
	quote := s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
	if quote {
		return strconv.AppendQuote(dst, s)
	}
	return append(dst, s...)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
