package commands

import (
	"fmt"

	"github.com/marmos91/flashcache/internal/logger"
	"github.com/marmos91/flashcache/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource describes where the configuration was loaded from.
func getConfigSource(configFile string) string {
	if path := configPathForWatch(configFile); path != "" {
		return path
	}
	return "defaults"
}

// configPathForWatch returns the file to watch for reloads, or "" when the
// configuration came from defaults only.
func configPathForWatch(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}
