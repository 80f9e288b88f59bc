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

package orchestrator_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/indexer"
	"github.com/bryceygordon/MagicFS/internal/metrics"
	"github.com/bryceygordon/MagicFS/internal/orchestrator"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// trackingIndexer fails the test the moment two IndexFile calls for the
// same path overlap in time, proving the Lockout Ledger actually
// serializes them rather than merely tracking a count.
type trackingIndexer struct {
	t     *testing.T
	mu    sync.Mutex
	busy  map[string]bool
	calls int32
}

func newTrackingIndexer(t *testing.T) *trackingIndexer {
	return &trackingIndexer{t: t, busy: make(map[string]bool)}
}

func (ix *trackingIndexer) IndexFile(ctx context.Context, absPath string) (indexer.Outcome, error) {
	ix.mu.Lock()
	if ix.busy[absPath] {
		ix.mu.Unlock()
		ix.t.Errorf("concurrent IndexFile calls for %s: lockout did not exclude", absPath)
		return indexer.OutcomeSkipped, nil
	}
	ix.busy[absPath] = true
	ix.mu.Unlock()

	atomic.AddInt32(&ix.calls, 1)
	time.Sleep(15 * time.Millisecond)

	ix.mu.Lock()
	ix.busy[absPath] = false
	ix.mu.Unlock()
	return indexer.OutcomeIndexed, nil
}

type noopSearcher struct{}

func (noopSearcher) Run(ctx context.Context, query string) error { return nil }

type noopFiles struct{}

func (noopFiles) FileByPath(absPath string) (repository.FileRecord, bool, error) {
	return repository.FileRecord{}, false, nil
}
func (noopFiles) RemoveFile(fileID int64) error { return nil }

type noopRefresh struct{ n int32 }

func (r *noopRefresh) SetRefreshSignal() { atomic.AddInt32(&r.n, 1) }

type countingRepo struct{ handovers int32 }

func (r *countingRepo) HandoverToSteady() error {
	atomic.AddInt32(&r.handovers, 1)
	return nil
}

// TestLockoutExclusivity exercises invariant 2: two events queued for
// the same path in rapid succession never run their Indexer jobs
// concurrently — the second is requeued at the front until the first
// releases the path.
func TestLockoutExclusivity(t *testing.T) {
	ix := newTrackingIndexer(t)
	repo := &countingRepo{}
	o := orchestrator.New(
		cfg.IndexerConfig{WorkerCount: 4, RetryWindow: 5 * time.Millisecond},
		cfg.SearchConfig{MaxConcurrent: 2},
		ix, noopSearcher{}, noopFiles{}, &noopRefresh{}, repo, metrics.Noop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	o.SubmitIndex("/watch/hot.txt")
	o.SubmitIndex("/watch/hot.txt")
	o.SubmitIndex("/watch/hot.txt")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ix.calls) == 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not shut down after context cancellation")
	}
}

// TestBulkToSteadyHandoverFiresOnce exercises the monotonic Bulk->Steady
// transition: it fires exactly once after the queue drains with no
// in-flight jobs, even across multiple drain cycles.
func TestBulkToSteadyHandoverFiresOnce(t *testing.T) {
	ix := newTrackingIndexer(t)
	repo := &countingRepo{}
	o := orchestrator.New(
		cfg.IndexerConfig{WorkerCount: 2},
		cfg.SearchConfig{},
		ix, noopSearcher{}, noopFiles{}, &noopRefresh{}, repo, metrics.Noop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	o.SubmitIndex("/watch/a.txt")
	require.Eventually(t, func() bool { return o.IsSteady() }, 2*time.Second, 5*time.Millisecond)

	o.SubmitIndex("/watch/b.txt")
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not shut down after context cancellation")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&repo.handovers))
}

// blockingIndexer holds every IndexFile call open until release is
// closed, letting a test saturate a small WorkerCount on purpose.
type blockingIndexer struct {
	started int32
	release chan struct{}
}

func (ix *blockingIndexer) IndexFile(ctx context.Context, absPath string) (indexer.Outcome, error) {
	atomic.AddInt32(&ix.started, 1)
	<-ix.release
	return indexer.OutcomeIndexed, nil
}

type countingSearcher struct{ calls int32 }

func (s *countingSearcher) Run(ctx context.Context, query string) error {
	atomic.AddInt32(&s.calls, 1)
	return nil
}

// TestSaturatedIndexPoolDoesNotStarveSearch exercises the dispatcher's
// non-blocking worker-pool claim: with every index worker pinned on a
// slow job, a concurrently submitted search request must still get
// dispatched promptly rather than wait behind a blocked dispatcher
// goroutine.
func TestSaturatedIndexPoolDoesNotStarveSearch(t *testing.T) {
	ix := &blockingIndexer{release: make(chan struct{})}
	defer close(ix.release)
	sr := &countingSearcher{}
	repo := &countingRepo{}
	o := orchestrator.New(
		cfg.IndexerConfig{WorkerCount: 2, RetryWindow: 5 * time.Millisecond},
		cfg.SearchConfig{MaxConcurrent: 2},
		ix, sr, noopFiles{}, &noopRefresh{}, repo, metrics.Noop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	o.SubmitIndex("/watch/a.txt")
	o.SubmitIndex("/watch/b.txt")
	o.SubmitIndex("/watch/c.txt")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ix.started) == 2
	}, 2*time.Second, 5*time.Millisecond, "both index workers should saturate")

	o.SubmitSearch("anything")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sr.calls) == 1
	}, 2*time.Second, 5*time.Millisecond, "search must dispatch despite saturated index pool")
}
