package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "config.yaml", minimalConfig(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { reloaded <- c }) }()

	// Give the watcher time to register before the first edit.
	time.Sleep(100 * time.Millisecond)

	invalid := minimalConfig(dir) + "  block_size: 3KiB\n"
	require.NoError(t, os.WriteFile(path, []byte(invalid), 0644))
	select {
	case <-reloaded:
		t.Fatal("invalid configuration must not be delivered")
	case <-time.After(600 * time.Millisecond):
	}

	valid := minimalConfig(dir) + "  enable_write: false\n"
	require.NoError(t, os.WriteFile(path, []byte(valid), 0644))
	select {
	case cfg := <-reloaded:
		require.NotNil(t, cfg.Cache.EnableWrite)
		assert.False(t, *cfg.Cache.EnableWrite)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.yaml")
	err := Watch(context.Background(), path, func(*Config) {})
	assert.Error(t, err)
}
