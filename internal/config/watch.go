package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 200 * time.Millisecond

// Watch reloads path on every write, coalescing rapid successive writes
// with a debounce timer, and delivers each successfully reloaded Config
// on the returned channel. It never delivers a Config that failed
// Validate — a bad edit is logged (via the error, left to the caller to
// surface) and the prior configuration keeps running, per SPEC_FULL.md's
// "optional hot-reload of the skills/watchers list via fsnotify".
//
// The channel is closed when ctx is done or the underlying watcher's
// channels close; removing the watched file does not close it.
func Watch(ctx context.Context, path string) (<-chan *Config, <-chan error, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: resolve path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	updates := make(chan *Config, 1)
	errs := make(chan error, 1)
	go watchLoop(ctx, w, absPath, updates, errs)
	return updates, errs, nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, updates chan<- *Config, errs chan<- error) {
	defer close(updates)
	defer close(errs)
	defer w.Close()

	name := filepath.Base(path)
	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		select {
		case updates <- cfg:
		default:
			// a reload is already pending; drop the stale one
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			select {
			case errs <- err:
			default:
			}
		}
	}
}
