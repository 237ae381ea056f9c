package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the bursts of events editors produce when
// saving a file.
const reloadDebounce = 50 * time.Millisecond

// Watch reloads the config file whenever it changes, until ctx is done.
// The file's directory is watched so that the file may be created, removed
// or replaced atomically. Failed reloads are logged and keep the previous
// values.
func (c *Config) Watch(ctx context.Context) error {
	if c.path == "" {
		return ErrNoFile
	}
	abs, err := filepath.Abs(c.path)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go c.watchLoop(ctx, fsw, abs)
	return nil
}

func (c *Config) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, path string) {
	defer fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := c.Load(); err != nil {
				c.logger.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			c.logger.Info("config reloaded", "path", path)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config watcher error", "error", err)
		}
	}
}
