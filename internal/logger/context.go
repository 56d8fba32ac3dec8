package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds operation-scoped fields that *Ctx functions prepend to
// every line.
type LogContext struct {
	TraceID   string
	SpanID    string
	Operation string // write_batch, read, flush, recovery, dump, backup, ...
	Space     uint32
	Page      uint32
	HasPage   bool
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext starts a LogContext for the named operation.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithPage returns a copy bound to one page.
func (lc *LogContext) WithPage(space, page uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Space, clone.Page, clone.HasPage = space, page, true
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
