package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the file must be quiet before reloading
const DefaultReloadDelay = 100 * time.Millisecond

// ReloadFunc receives each valid configuration read after a change
type ReloadFunc func(*Config)

// Watcher reloads a configuration file when it changes on disk
type Watcher struct {
	filename string
	onReload ReloadFunc
	logger   *log.Logger
	delay    time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching filename. The parent directory is watched so
// that editors replacing the file are seen too.
func NewWatcher(filename string, onReload ReloadFunc, logger *log.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", filename, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		filename: abs,
		onReload: onReload,
		logger:   logger,
		delay:    DefaultReloadDelay,
		watcher:  fw,
	}, nil
}

// Run delivers reloads until ctx is cancelled or the watcher is closed
func (w *Watcher) Run(ctx context.Context) {
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				pending = time.After(w.delay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logf("Config watcher error: %v", err)

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg := NewConfig(w.filename)
	if err := cfg.Load(); err != nil {
		w.logf("Config reload failed: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logf("Config reload rejected: %v", err)
		return
	}
	w.logf("Config reloaded from %s", w.filename)
	w.onReload(cfg)
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
