// Package slogutil builds the slog loggers used by dartas.
package slogutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LineHandler writes one record per line:
//
//	2024-05-01T10:00:00Z [info] Analysis server ready | client=3f.. version=3.4.0
//
// Attributes added through WithAttrs are rendered once and reused for every
// record. Groups become dotted key prefixes.
type LineHandler struct {
	out   *lineWriter
	level slog.Leveler
	// prefix is the dotted group path for attributes added later
	prefix string
	// preformatted holds " key=value" pairs from WithAttrs
	preformatted []byte
}

// lineWriter serializes writes from a handler and everything derived from it.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineHandler returns a handler writing to w. Only opts.Level is used;
// a *slog.LevelVar there can change the level at runtime.
func NewLineHandler(w io.Writer, opts *slog.HandlerOptions) *LineHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &LineHandler{out: &lineWriter{w: w}, level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the log record.
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128+len(h.preformatted))
	buf = r.Time.UTC().AppendFormat(buf, time.RFC3339)
	buf = append(buf, " ["...)
	buf = append(buf, levelString(r.Level)...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	attrs := h.preformatted
	if r.NumAttrs() > 0 {
		attrs = append([]byte(nil), h.preformatted...)
		r.Attrs(func(a slog.Attr) bool {
			attrs = appendAttr(attrs, h.prefix, a)
			return true
		})
	}
	if len(attrs) > 0 {
		buf = append(buf, " |"...)
		buf = append(buf, attrs...)
	}
	buf = append(buf, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(buf)
	return err
}

// WithAttrs returns a handler that prints attrs on every record.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.preformatted = append([]byte(nil), h.preformatted...)
	for _, a := range attrs {
		h2.preformatted = appendAttr(h2.preformatted, h.prefix, a)
	}
	return &h2
}

// WithGroup returns a handler that prefixes later keys with name.
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

// appendAttr renders a as " key=value", flattening groups into dotted keys.
// Empty attrs are dropped, as slog.Handler requires.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return buf
		}
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			buf = appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, formatValue(a.Value)...)
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// formatValue quotes text containing spaces or quotes so a line stays
// splittable on spaces.
func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		return v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
