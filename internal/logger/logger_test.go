package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer and returns a cleanup
// function restoring the previous writer, level and format.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	prevOut, prevColor := output, useColor
	output, useColor = buf, false
	mu.Unlock()

	prevLevel := Level(currentLevel.Load())
	prevFormat, _ := currentFormat.Load().(string)
	reconfigure()

	return buf, func() {
		mu.Lock()
		output, useColor = prevOut, prevColor
		mu.Unlock()
		currentLevel.Store(int32(prevLevel))
		currentFormat.Store(prevFormat)
		reconfigure()
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("WARN")

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line")
}

func TestSetLevel_IgnoresUnknown(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	SetLevel("debug")
	SetLevel("chatty")
	assert.True(t, Enabled(LevelDebug))

	SetLevel("warning")
	assert.False(t, Enabled(LevelInfo))
	assert.True(t, Enabled(LevelWarn))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestTextFormat_Attributes(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")

	Info("block flushed", Space(7), Page(42), Offset(1024), Codec("zstd"))

	out := buf.String()
	assert.Contains(t, out, "block flushed")
	assert.Contains(t, out, "space=7")
	assert.Contains(t, out, "page=42")
	assert.Contains(t, out, "ring_offset=1024")
	assert.Contains(t, out, "codec=zstd")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("INFO")

	Warn("log commit slow", DurationMs(12.5), Err(errors.New("fsync")))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "log commit slow", entries[0]["msg"])
	assert.Equal(t, 12.5, entries[0][KeyDurationMs])
	assert.Equal(t, "fsync", entries[0][KeyError])
}

func TestErr_NilIsDropped(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")

	Info("ok", Err(nil))
	assert.NotContains(t, buf.String(), KeyError+"=")
}

func TestContextLogging(t *testing.T) {
	t.Run("InjectsPageAndOperation", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		SetLevel("DEBUG")

		lc := NewLogContext("read").WithPage(3, 99).WithTrace("t1", "s1")
		ctx := WithContext(context.Background(), lc)

		DebugCtx(ctx, "served from flash cache", "hit", true)

		entries := decodeLines(t, buf)
		require.Len(t, entries, 1)
		e := entries[0]
		assert.Equal(t, "t1", e[KeyTraceID])
		assert.Equal(t, "s1", e[KeySpanID])
		assert.Equal(t, "read", e[KeyOperation])
		assert.Equal(t, float64(3), e[KeySpace])
		assert.Equal(t, float64(99), e[KeyPage])
		assert.Equal(t, true, e["hit"])
	})

	t.Run("WithoutPage", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		SetLevel("INFO")

		InfoCtx(WithContext(context.Background(), NewLogContext("flush")), "pass done")

		entries := decodeLines(t, buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "flush", entries[0][KeyOperation])
		_, hasSpace := entries[0][KeySpace]
		assert.False(t, hasSpace)
	})

	t.Run("NilContext", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		//nolint:staticcheck
		require.NotPanics(t, func() { InfoCtx(nil, "bare") })
		assert.Contains(t, buf.String(), "bare")
	})
}

func TestLogContext_CloneIsIndependent(t *testing.T) {
	base := NewLogContext("write_batch")
	bound := base.WithPage(1, 2)

	assert.False(t, base.HasPage)
	assert.True(t, bound.HasPage)
	assert.Equal(t, "write_batch", bound.Operation)

	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Nil(t, nilCtx.WithPage(1, 1))
	assert.Zero(t, nilCtx.DurationMs())
	assert.GreaterOrEqual(t, base.DurationMs(), 0.0)
}

func TestConcurrentLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("write", Page(uint32(n*100+j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, strings.Count(buf.String(), "\n"))
}

func TestFatal_CallsExit(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	var code int
	prev := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = prev }()

	SetLevel("INFO")
	Fatal("device write failed", Path("/dev/nvme0n1"))

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "device write failed")
}

func TestInit_FileOutput(t *testing.T) {
	_, cleanup := captureOutput()
	defer cleanup()

	path := filepath.Join(t.TempDir(), "flashcache.log")
	require.NoError(t, Init(Config{Level: "INFO", Format: "json", Output: path}))

	Info("to file", Count(3))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"count":3`)

	err = Init(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestDebugf(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("DEBUG")
	Debugf("walked %d slots", 64)
	assert.Contains(t, buf.String(), "walked 64 slots")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	l := slog.New(h).With(Codec("lz4")).WithGroup("dump")

	l.Debug("dump written", Path("/var/lib/flash cache/dump"), Count(3), slog.Group("write", Round(2)))

	out := buf.String()
	assert.Contains(t, out, "[DEBUG] dump written codec=lz4")
	assert.Contains(t, out, `dump.path="/var/lib/flash cache/dump"`)
	assert.Contains(t, out, "dump.count=3")
	assert.Contains(t, out, "dump.write.round=2")
	assert.True(t, strings.HasSuffix(out, "\n"))

	buf.Reset()
	colored := slog.New(NewColorTextHandler(&buf, nil, true))
	colored.Debug("hidden")
	colored.Error("device gone", Err(errors.New("EIO")))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "\033[31mERROR\033[0m")
	assert.Contains(t, buf.String(), "\033[36merror\033[0m=EIO")
}
