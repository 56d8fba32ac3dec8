package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset = "\033[0m"
	ansiKey   = "\033[36m"
)

type levelStyle struct {
	min   slog.Level
	name  string
	color string
}

// Checked from the top: the first style whose min is <= the record level wins.
var levelStyles = []levelStyle{
	{slog.LevelError, "ERROR", "\033[31m"},
	{slog.LevelWarn, "WARN", "\033[33m"},
	{slog.LevelInfo, "INFO", "\033[32m"},
	{slog.LevelDebug - 100, "DEBUG", "\033[90m"},
}

// ColorTextHandler writes one "[time] [LEVEL] msg key=value ..." line per
// record. Values containing spaces or quotes are quoted so error strings stay
// on one field. Levels and keys are coloured when writing to a terminal.
type ColorTextHandler struct {
	out      *lockedWriter
	level    slog.Leveler
	prefix   string // group path, "a.b." or ""
	attrs    []byte // pre-rendered WithAttrs output
	useColor bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ColorTextHandler{out: &lockedWriter{w: w}, level: level, useColor: useColor}
}

func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, "2006-01-02 15:04:05.000")
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := h.out.w.Write(buf)
	return err
}

func (h *ColorTextHandler) appendLevel(buf []byte, level slog.Level) []byte {
	for _, s := range levelStyles {
		if level < s.min {
			continue
		}
		if !h.useColor {
			return append(buf, s.name...)
		}
		buf = append(buf, s.color...)
		buf = append(buf, s.name...)
		return append(buf, ansiReset...)
	}
	return buf
}

func (h *ColorTextHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	if h.useColor {
		buf = append(buf, ansiKey...)
	}
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	if h.useColor {
		buf = append(buf, ansiReset...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	}
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]byte(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = h.appendAttr(c.attrs, h.prefix, a)
	}
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}
