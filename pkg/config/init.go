package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const sampleHeader = `# flashcache configuration file
#
# Every key can be overridden by an environment variable: upper-case the
# dotted path, replace dots with underscores and prefix FLASHCACHE_, for
# example FLASHCACHE_CACHE_ENABLE_WRITE=false.
#
# cache.enable_write, cache.enable_migrate, cache.enable_move and the flush
# percentages are re-applied when this file changes while the server runs.

`

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	buf.Write(data)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
