package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the settings file whenever it changes on disk and invokes
// onReload after each successful reload. It blocks until ctx is canceled.
// Credentials parsed from settings are configuration-scoped, so consumers use
// onReload to drop memoized key material.
func (c *Config) Watch(ctx context.Context, onReload func()) error {
	if c.SettingsFile == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.SettingsFile); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.SettingsFile, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.ReloadSettings(); err != nil {
				// Keep the previous settings on a bad write; the next
				// save will be picked up.
				continue
			}
			if onReload != nil {
				onReload()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
