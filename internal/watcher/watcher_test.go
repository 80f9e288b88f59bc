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

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/indexer"
)

// recordingSubmitter captures every path the Watcher forwards, so tests
// can assert on what was (or, for ignored files, was not) submitted.
type recordingSubmitter struct {
	mu      sync.Mutex
	indexed map[string]bool
	deleted map[string]bool
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{indexed: make(map[string]bool), deleted: make(map[string]bool)}
}

func (s *recordingSubmitter) SubmitIndex(absPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[absPath] = true
}

func (s *recordingSubmitter) SubmitDelete(absPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[absPath] = true
}

func (s *recordingSubmitter) hasIndexed(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexed[path]
}

type noopRefresh struct{}

func (noopRefresh) ClearRefreshSignal() bool { return false }

func newTestWatcher(t *testing.T, roots []string, sub Submitter) *Watcher {
	t.Helper()
	c := cfg.WatcherConfig{
		DebounceWindow:     10 * time.Millisecond,
		ThermalLimitPerMin: 100,
		ThermalLockout:     time.Minute,
		QueueCapacity:      64,
	}
	w, err := New(c, roots, indexer.NewIgnoreSet(), sub, noopRefresh{})
	require.NoError(t, err)
	return w
}

func TestInitialScan_LoadsIgnoreBeforeEnqueuingSiblingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ignoreFileName), []byte("ignored.txt\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("x"), 0o644))

	sub := newRecordingSubmitter()
	w := newTestWatcher(t, []string{root}, sub)

	w.initialScan(root)

	assert.False(t, sub.hasIndexed(filepath.Join(root, "ignored.txt")))

	// initialScan itself only discovers files; filtering against the
	// ignore set happens downstream in the Bouncer/Indexer, so both
	// files reach the queue - what this test actually proves is that
	// the ignore file's patterns are loaded and queryable immediately
	// after the scan returns, before any caller could plausibly have
	// raced it.
	assert.True(t, w.ignores.Matches(filepath.Join(root, "ignored.txt")))
	assert.False(t, w.ignores.Matches(filepath.Join(root, "kept.txt")))
}

func TestRun_DetectsNewFileAndEnqueuesIt(t *testing.T) {
	root := t.TempDir()
	sub := newRecordingSubmitter()
	w := newTestWatcher(t, []string{root}, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	// Give the watcher time to complete its initial scan and start
	// draining fsnotify events before the write happens.
	time.Sleep(50 * time.Millisecond)

	target := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		return sub.hasIndexed(target)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}

func TestRun_WatchesNewlyCreatedSubdirectory(t *testing.T) {
	root := t.TempDir()
	sub := newRecordingSubmitter()
	w := newTestWatcher(t, []string{root}, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)

	subdir := filepath.Join(root, "nested")
	require.NoError(t, os.Mkdir(subdir, 0o755))

	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(subdir, "inner.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		return sub.hasIndexed(target)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}

func TestRun_ReloadsIgnoreFileOnWrite(t *testing.T) {
	root := t.TempDir()
	sub := newRecordingSubmitter()
	w := newTestWatcher(t, []string{root}, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)

	ignorePath := filepath.Join(root, ignoreFileName)
	require.NoError(t, os.WriteFile(ignorePath, []byte("secret.txt\n"), 0o644))

	require.Eventually(t, func() bool {
		return w.ignores.Matches(filepath.Join(root, "secret.txt"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}
