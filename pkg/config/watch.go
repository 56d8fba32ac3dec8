package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/flashcache/internal/logger"
)

// reloadDelay coalesces the burst of events an editor or an atomic rename
// produces for one save.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and
// passes every configuration that loads and validates to fn. Invalid edits
// are logged and skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so replacements by
// rename are seen.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(reloadDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", logger.Err(err))

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Config reload rejected", logger.Path(abs), logger.Err(err))
				continue
			}
			logger.Info("Config reloaded", logger.Path(abs))
			fn(cfg)
		}
	}
}
