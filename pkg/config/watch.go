package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Watch reloads the configuration whenever the file at path changes and
// passes each valid result to onChange. Invalid files are logged and
// skipped, leaving the previous configuration in effect. Watch blocks until
// ctx is done.
//
// The parent directory is watched rather than the file, so editors and
// config-map updates that replace the file are picked up.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("config file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger = logger.WithField("config_file", abs)
	logger.Info("watching config file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logger.WithError(err).Warn("ignoring invalid config change")
				continue
			}
			logger.Info("config reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}

// LogLevelReloader returns an onChange callback that applies the reloaded
// log level to logger
func LogLevelReloader(logger *observability.Logger) func(*Config) {
	return func(cfg *Config) {
		level := cfg.Observability.Level()
		if logger.Level() != level {
			logger.SetLevel(level)
			logger.WithField("level", level.String()).Info("log level changed")
		}
	}
}
