// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER INTERFACE
// =============================================================================

// Watcher reloads configuration when the file changes.
type Watcher interface {
	// Watch starts watching; the callback receives each reloaded config.
	Watch(onReload func(*Config)) error

	// Close stops watching and releases resources.
	Close() error
}

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// FsnotifyWatcher implements Watcher using fsnotify, with debounce so an
// editor's write-then-rename sequence triggers a single reload.
type FsnotifyWatcher struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// NewFsnotifyWatcher creates a watcher for the config file at path.
func NewFsnotifyWatcher(path string, debounce time.Duration) *FsnotifyWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &FsnotifyWatcher{path: path, debounce: debounce, done: make(chan struct{})}
}

// Watch starts the watch loop. The parent directory is watched, not the file
// itself, so atomic-rename saves are observed.
func (w *FsnotifyWatcher) Watch(onReload func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}

	go w.loop(onReload)
	return nil
}

// loop coalesces events into debounced reloads.
func (w *FsnotifyWatcher) loop(onReload func(*Config)) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(onReload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}

// scheduleReload resets the debounce timer.
func (w *FsnotifyWatcher) scheduleReload(onReload func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			log.Printf("config: reload failed: %v", err)
			return
		}
		onReload(cfg)
	})
}

// Close stops watching.
func (w *FsnotifyWatcher) Close() error {
	close(w.done)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
