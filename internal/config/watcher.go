package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const debounceDelay = 500 * time.Millisecond

// Watch reloads the config file whenever it changes and passes every valid
// result to onChange. Invalid files are logged and skipped. It blocks until
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// the directory is watched so editors replacing the file are seen
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	logrus.Debugf("Watching config file %s", abs)

	var debounce <-chan time.Time
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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(debounceDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Errorf("Config watcher error: %v", err)

		case <-debounce:
			debounce = nil
			cfg, err := Load(path)
			if err != nil {
				logrus.Errorf("Failed to reload config: %v", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				logrus.Errorf("Ignoring invalid config: %v", err)
				continue
			}
			logrus.Infof("Configuration file %s changed", path)
			onChange(cfg)
		}
	}
}
