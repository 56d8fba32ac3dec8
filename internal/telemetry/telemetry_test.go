package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashcache/internal/logger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "flashcache", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
	assert.NotNil(t, Tracer())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1.5).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestStartCacheSpan_AttachesLogContext(t *testing.T) {
	ctx, span := StartCacheSpan(context.Background(), "flush", FlushTarget(800), Force(true))
	defer span.End()

	lc := logger.FromContext(ctx)
	require.NotNil(t, lc)
	assert.Equal(t, "flush", lc.Operation)
	// The no-op tracer yields invalid span contexts.
	assert.Empty(t, lc.TraceID)
	assert.Empty(t, TraceID(ctx))
}

func TestStartBackupSpan_LogsOperation(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf, "DEBUG", "json", false)
	t.Cleanup(func() { logger.InitWithWriter(&bytes.Buffer{}, "INFO", "text", false) })

	ctx, span := StartBackupSpan(context.Background(), "create", BackupID("b1"), Path("/tmp/ib_fc_backup"))
	logger.InfoCtx(ctx, "backup step")
	End(span, nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "create", line["operation"])
	assert.Equal(t, "backup step", line["msg"])
}

func TestAttributeHelpers(t *testing.T) {
	tests := []struct {
		name string
		key  string
		got  any
		want any
	}{
		{"RingOffset", AttrRingOffset, RingOffset(12).Value.AsInt64(), int64(12)},
		{"RingRound", AttrRingRound, RingRound(3).Value.AsInt64(), int64(3)},
		{"Distance", AttrDistance, Distance(-1).Value.AsInt64(), int64(-1)},
		{"FlushTarget", AttrFlushTarget, FlushTarget(800).Value.AsInt64(), int64(800)},
		{"Force", AttrForce, Force(true).Value.AsBool(), true},
		{"Pages", AttrPages, Pages(64).Value.AsInt64(), int64(64)},
		{"Path", AttrPath, Path("/var/lib/flashcache/dump").Value.AsString(), "/var/lib/flashcache/dump"},
		{"BackupID", AttrBackupID, BackupID("b1").Value.AsString(), "b1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
	assert.Equal(t, AttrPages, string(Pages(1).Key))
}

func TestEnd(t *testing.T) {
	_, span := StartCacheSpan(context.Background(), "dump")
	require.NotPanics(t, func() { End(span, errors.New("dump failed")) })

	_, span = StartCacheSpan(context.Background(), "dump")
	require.NotPanics(t, func() { End(span, nil) })
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes([]string{"cpu", "mutex_duration"})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = ParseProfileTypes([]string{"heap"})
	assert.Error(t, err)
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, stop())
	assert.False(t, IsProfilingEnabled())
}
