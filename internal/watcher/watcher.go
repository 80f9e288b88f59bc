// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher implements spec.md §4.6: a recursive fsnotify watch
// over the configured roots, per-path debounce, thermal-limit chatter
// protection with a Final Promise guarantee, .magicfsignore reloading,
// and polling for the /.magic/refresh control signal.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/indexer"
	"github.com/bryceygordon/MagicFS/internal/logger"
)

const ignoreFileName = ".magicfsignore"

// Submitter is the slice of *orchestrator.Orchestrator the Watcher
// drives.
type Submitter interface {
	SubmitIndex(absPath string)
	SubmitDelete(absPath string)
}

// RefreshWaiter is the slice of *inode.Store the Watcher polls for the
// /.magic/refresh control file.
type RefreshWaiter interface {
	ClearRefreshSignal() bool
}

// Watcher is the component of spec.md §4.6.
type Watcher struct {
	cfg       cfg.WatcherConfig
	roots     []string
	ignores   indexer.IgnoreSet
	submitter Submitter
	refresh   RefreshWaiter

	fsw      *fsnotify.Watcher
	debounce *debouncer
	thermal  *thermalGovernor

	// queue bounds how many discovered paths can be waiting to reach
	// the Submitter at once (spec.md §9 back-pressure: "for cold paths
	// it applies flow control by parking the walker"). A buffered
	// channel blocks its sender once full, which is exactly that park.
	queue chan queuedEvent
}

type queuedEvent struct {
	path   string
	delete bool
}

// New constructs a Watcher. ignores is shared (by reference, since
// indexer.IgnoreSet wraps a map) with the Bouncer the Indexer uses, so
// a reload here is visible to indexing decisions immediately.
func New(c cfg.WatcherConfig, roots []string, ignores indexer.IgnoreSet, sub Submitter, refresh RefreshWaiter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	capacity := c.QueueCapacity
	if capacity <= 0 {
		capacity = 4096
	}

	w := &Watcher{
		cfg:       c,
		roots:     roots,
		ignores:   ignores,
		submitter: sub,
		refresh:   refresh,
		fsw:       fsw,
		queue:     make(chan queuedEvent, capacity),
	}
	w.debounce = newDebouncer(c.DebounceWindow, w.onDebouncedIndex)
	w.thermal = newThermalGovernor(c.ThermalLimitPerMin, c.ThermalLockout, w.onFinalPromise)
	return w, nil
}

// Run performs the initial recursive scan, then drives the fsnotify
// event loop and the refresh-signal poll until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	for _, root := range w.roots {
		if err := w.watchTree(root); err != nil {
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}
	for _, root := range w.roots {
		w.initialScan(root)
	}

	go w.drainQueue(ctx)
	go w.pollRefresh(ctx)

	defer w.fsw.Close()
	defer w.debounce.stopAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("watcher: fsnotify error: %v", err)
		}
	}
}

// watchTree adds fsw watches for dir and every subdirectory beneath
// it; fsnotify itself is not recursive.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("watcher: walk %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				logger.Warnf("watcher: add watch %s: %v", path, err)
			}
		}
		return nil
	})
}

// initialScan walks dir once at startup, loading any .magicfsignore
// files before the regular files beside them per spec.md §4.6 ("take
// effect before any other events"), and enqueues every regular file
// for indexing.
func (w *Watcher) initialScan(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("watcher: initial scan %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			ignoreFile := filepath.Join(path, ignoreFileName)
			if err := w.ignores.LoadFile(path, ignoreFile); err != nil {
				logger.Warnf("watcher: load %s: %v", ignoreFile, err)
			}
			return nil
		}
		if d.Name() == ignoreFileName {
			return nil
		}
		w.enqueue(path, false)
		return nil
	})
}

// handleEvent applies the thermal governor before the debouncer, so a
// hot path never even starts a new debounce timer once it is locked
// out, and reloads .magicfsignore synchronously so it takes effect
// before the rest of this tick's events, per spec.md §4.6.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Base(ev.Name) == ignoreFileName {
		dir := filepath.Dir(ev.Name)
		if err := w.ignores.LoadFile(dir, ev.Name); err != nil {
			logger.Warnf("watcher: reload %s: %v", ev.Name, err)
		}
		return
	}

	if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
		w.debounce.cancel(ev.Name)
		w.enqueue(ev.Name, true)
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				logger.Warnf("watcher: watch new directory %s: %v", ev.Name, err)
			}
			w.initialScan(ev.Name)
			return
		}
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
		return
	}

	if !w.thermal.allow(ev.Name) {
		logger.Debugf("watcher: %s suppressed by thermal limit", ev.Name)
		return
	}
	w.debounce.touch(ev.Name)
}

// onDebouncedIndex is the debouncer's fire callback: a path's writes
// have settled, so it is safe to enqueue for indexing.
func (w *Watcher) onDebouncedIndex(path string) {
	w.enqueue(path, false)
}

// onFinalPromise is the thermal governor's guarantee: a burst was
// suppressed for path, so once its lockout window expires, index it
// exactly once to capture the final state.
func (w *Watcher) onFinalPromise(path string) {
	w.enqueue(path, false)
}

func (w *Watcher) enqueue(path string, deleted bool) {
	w.queue <- queuedEvent{path: path, delete: deleted}
}

// drainQueue forwards queued events to the Submitter, decoupling the
// bounded internal queue (whose capacity provides back-pressure) from
// the Orchestrator's own unbounded queue.
func (w *Watcher) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case qe := <-w.queue:
			if qe.delete {
				w.submitter.SubmitDelete(qe.path)
			} else {
				w.submitter.SubmitIndex(qe.path)
			}
		}
	}
}

// pollRefresh checks the /.magic/refresh signal roughly once a second
// and re-runs the full recursive scan when it fires.
func (w *Watcher) pollRefresh(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.refresh.ClearRefreshSignal() {
				logger.Infof("watcher: refresh signal received, rescanning watch roots")
				for _, root := range w.roots {
					w.initialScan(root)
				}
			}
		}
	}
}
