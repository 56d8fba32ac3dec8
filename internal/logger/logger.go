// Package logger is the process-wide structured logger.
//
// It wraps log/slog behind package-level functions so every component of the
// cache logs with the same handler, level and field names (see fields.go).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // "text" or "json"

	mu       sync.RWMutex
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	closer   io.Closer
	useColor = true

	// exitFunc is swapped in tests so Fatal does not end the test binary.
	exitFunc = os.Exit
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	currentFormat.Store("text")

	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}

	reconfigure()
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func parseLevel(s string) (Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// reconfigure rebuilds the slog handler from the current settings.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: Level(currentLevel.Load()).slog()}

	var h slog.Handler
	if format, _ := currentFormat.Load().(string); format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies cfg. Output may be "stdout", "stderr" or a file path, which is
// opened in append mode.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var (
			w     io.Writer
			c     io.Closer
			color bool
		)

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w, color = os.Stdout, isTerminal(os.Stdout.Fd())
		case "stderr":
			w, color = os.Stderr, isTerminal(os.Stderr.Fd())
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			w, c = f, f
		}

		mu.Lock()
		if closer != nil {
			_ = closer.Close()
		}
		output, closer, useColor = w, c, color
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	reconfigure()
	return nil
}

// InitWithWriter points the logger at w. Mostly for tests.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
	reconfigure()
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(level string) {
	l, ok := parseLevel(level)
	if !ok {
		return
	}
	currentLevel.Store(int32(l))
	reconfigure()
}

// SetFormat sets the output format (text or json). Unknown formats are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

// Enabled reports whether messages at l are currently emitted.
func Enabled(l Level) bool {
	return l >= Level(currentLevel.Load())
}

func getLogger() *slog.Logger {
	mu.RLock()
	l := slogger
	mu.RUnlock()
	return l
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level: Debug("msg", "key", value, ...)
func Debug(msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	getLogger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	getLogger().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	getLogger().Warn(msg, args...)
}

// Error logs at error level. Errors are never filtered.
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// Fatal logs at error level and terminates the process. Reserved for device
// failures where cached state can no longer be trusted.
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	exitFunc(1)
}

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prefixing fields from the LogContext in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	getLogger().Debug(msg, appendContextFields(ctx, args)...)
}

// InfoCtx logs at info level with context fields.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelInfo) {
		return
	}
	getLogger().Info(msg, appendContextFields(ctx, args)...)
}

// WarnCtx logs at warn level with context fields.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	if !Enabled(LevelWarn) {
		return
	}
	getLogger().Warn(msg, appendContextFields(ctx, args)...)
}

// ErrorCtx logs at error level with context fields.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	getLogger().Error(msg, appendContextFields(ctx, args)...)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 10+len(args))
	if lc.TraceID != "" {
		ctxArgs = append(ctxArgs, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		ctxArgs = append(ctxArgs, KeySpanID, lc.SpanID)
	}
	if lc.Operation != "" {
		ctxArgs = append(ctxArgs, KeyOperation, lc.Operation)
	}
	if lc.HasPage {
		ctxArgs = append(ctxArgs, KeySpace, lc.Space, KeyPage, lc.Page)
	}
	return append(ctxArgs, args...)
}

// With returns a logger with pre-bound attributes.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// Debugf logs at debug level with printf-style formatting.
func Debugf(format string, v ...any) {
	if !Enabled(LevelDebug) {
		return
	}
	getLogger().Debug(fmt.Sprintf(format, v...))
}
