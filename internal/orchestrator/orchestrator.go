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

// Package orchestrator implements spec.md §4.3: the central event loop
// that receives file events and search requests, enforces per-file
// exclusion (the Lockout Ledger), dispatches jobs to the Indexer and
// Searcher, and tracks the Bulk/Steady mode transition.
package orchestrator

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/indexer"
	"github.com/bryceygordon/MagicFS/internal/logger"
	"github.com/bryceygordon/MagicFS/internal/metrics"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// Indexer is the slice of *indexer.Indexer the Orchestrator dispatches
// index/delete jobs to.
type Indexer interface {
	IndexFile(ctx context.Context, absPath string) (indexer.Outcome, error)
}

// Searcher is the slice of *searcher.Searcher the Orchestrator
// dispatches search jobs to.
type Searcher interface {
	Run(ctx context.Context, query string) error
}

// fileLookup is the slice of *repository.Repository the Arbitrator uses
// to actually drop a file once a Delete event survives its os.Stat
// re-check, per spec.md §4.3.
type fileLookup interface {
	FileByPath(absPath string) (repository.FileRecord, bool, error)
	RemoveFile(fileID int64) error
}

// RefreshSignal is the slice of *inode.Store the refresh control file
// writes through.
type RefreshSignal interface {
	SetRefreshSignal()
}

// eventKind distinguishes the four things that can flow through the
// Orchestrator's single FIFO queue.
type eventKind int

const (
	eventIndex eventKind = iota
	eventDelete
	eventSearch
	eventRefresh
)

type event struct {
	kind  eventKind
	path  string // eventIndex, eventDelete
	query string // eventSearch
}

// Orchestrator is the component of spec.md §4.3.
type Orchestrator struct {
	idxCfg    cfg.IndexerConfig
	searchCfg cfg.SearchConfig

	indexer  Indexer
	searcher Searcher
	files    fileLookup
	refresh  RefreshSignal
	mode     *modeTracker
	metrics  *metrics.Registry

	lockout *lockoutLedger

	indexSem  *semaphore.Weighted
	searchSem *semaphore.Weighted

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []event
	inFlight int
	closed   bool

	wg sync.WaitGroup
}

// New constructs an Orchestrator. indexWorkers and searchWorkers default
// to runtime.NumCPU() and 2 respectively when zero, per spec.md §4.3
// ("Indexer jobs run in parallel up to the CPU limit" / "concurrent
// Searcher jobs capped at 2").
func New(idxCfg cfg.IndexerConfig, searchCfg cfg.SearchConfig, ix Indexer, sr Searcher, files fileLookup, refresh RefreshSignal, repo SteadyHandover, reg *metrics.Registry) *Orchestrator {
	indexWorkers := idxCfg.WorkerCount
	if indexWorkers <= 0 {
		indexWorkers = runtime.NumCPU()
	}
	searchWorkers := searchCfg.MaxConcurrent
	if searchWorkers <= 0 {
		searchWorkers = 2
	}
	if reg == nil {
		reg = metrics.Noop()
	}

	o := &Orchestrator{
		idxCfg:    idxCfg,
		searchCfg: searchCfg,
		indexer:   ix,
		searcher:  sr,
		files:     files,
		refresh:   refresh,
		mode:      newModeTracker(repo),
		metrics:   reg,
		lockout:   newLockoutLedger(),
		indexSem:  semaphore.NewWeighted(int64(indexWorkers)),
		searchSem: semaphore.NewWeighted(int64(searchWorkers)),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// SubmitIndex implements internal/fsface.Submitter: enqueue an index
// job without blocking the calling fuse goroutine.
func (o *Orchestrator) SubmitIndex(absPath string) {
	o.enqueue(event{kind: eventIndex, path: absPath})
}

// SubmitDelete enqueues a delete event, consulted by the Watcher when a
// path disappears. The Arbitrator re-checks existence before acting on
// it (spec.md §4.3).
func (o *Orchestrator) SubmitDelete(absPath string) {
	o.enqueue(event{kind: eventDelete, path: absPath})
}

// SubmitSearch implements internal/fsface.Submitter.
func (o *Orchestrator) SubmitSearch(query string) {
	o.enqueue(event{kind: eventSearch, query: query})
}

// SubmitRefresh implements internal/fsface.Submitter.
func (o *Orchestrator) SubmitRefresh() {
	o.enqueue(event{kind: eventRefresh})
}

func (o *Orchestrator) enqueue(e event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, e)
	o.metrics.QueueDepth.Set(float64(len(o.queue)))
	o.mu.Unlock()
	o.cond.Broadcast()
}

// Run drives the event loop until ctx is canceled. It is the
// tick()-by-tick dispatcher of spec.md §4.3: pull every currently
// queued event, dispatch what the Lockout Ledger allows, requeue the
// rest at the front (preserving FIFO causality), and back off for
// idxCfg.RetryWindow when an entire batch was locked before trying
// again.
func (o *Orchestrator) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		o.cond.Broadcast()
	}()

	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if o.closed && len(o.queue) == 0 {
			o.mu.Unlock()
			break
		}
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		requeue := o.dispatchBatch(ctx, batch)

		o.mu.Lock()
		o.queue = append(requeue, o.queue...)
		empty := len(o.queue) == 0
		inFlight := o.inFlight
		o.metrics.QueueDepth.Set(float64(len(o.queue)))
		o.metrics.LockoutDepth.Set(float64(o.lockout.depth()))
		o.mu.Unlock()

		if empty && inFlight == 0 {
			o.mode.maybeHandover()
		}

		if len(requeue) == len(batch) && len(batch) > 0 {
			// Every event in this tick was locked out; nothing changed,
			// so spinning immediately would burn CPU to no purpose.
			delay := o.idxCfg.RetryWindow
			if delay <= 0 {
				delay = 50 * time.Millisecond
			}
			time.Sleep(delay)
		}
	}

	o.wg.Wait()
	return nil
}

// dispatchBatch processes one tick's worth of events, returning the
// ones that were locked out (in original order) to requeue at the
// front.
func (o *Orchestrator) dispatchBatch(ctx context.Context, batch []event) []event {
	var requeue []event
	for _, e := range batch {
		switch e.kind {
		case eventIndex:
			if !o.lockout.tryAcquire(e.path) {
				requeue = append(requeue, e)
				continue
			}
			if !o.indexSem.TryAcquire(1) {
				// Every index worker is busy. Give the path back rather
				// than blocking this goroutine on Acquire: a saturated
				// Indexer pool must never stall dispatch of the
				// eventSearch jobs still waiting in this same batch.
				o.lockout.release(e.path)
				requeue = append(requeue, e)
				continue
			}
			o.spawnIndexJob(ctx, e.path)

		case eventDelete:
			if !o.lockout.tryAcquire(e.path) {
				requeue = append(requeue, e)
				continue
			}
			o.spawnDeleteJob(e.path)

		case eventSearch:
			if !o.searchSem.TryAcquire(1) {
				requeue = append(requeue, e)
				continue
			}
			o.spawnSearchJob(ctx, e.query)

		case eventRefresh:
			if o.refresh != nil {
				o.refresh.SetRefreshSignal()
			}
		}
	}
	return requeue
}

func (o *Orchestrator) trackInFlight(delta int) {
	o.mu.Lock()
	o.inFlight += delta
	o.mu.Unlock()
}

// spawnIndexJob runs one Indexer.IndexFile call on a worker slot. The
// caller (dispatchBatch) has already claimed the slot with
// indexSem.TryAcquire so this never blocks the single dispatcher
// goroutine; it only ever releases it.
func (o *Orchestrator) spawnIndexJob(ctx context.Context, absPath string) {
	o.trackInFlight(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.indexSem.Release(1)
		defer o.lockout.release(absPath)
		defer o.trackInFlight(-1)
		defer o.cond.Broadcast()

		start := time.Now()
		outcome, err := o.indexer.IndexFile(ctx, absPath)
		o.metrics.IndexLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Errorf("orchestrator: index %s: %v", absPath, err)
			o.metrics.IndexJobsTotal.WithLabelValues("error").Inc()
			return
		}
		o.metrics.IndexJobsTotal.WithLabelValues(string(outcome)).Inc()
	}()
}

// spawnDeleteJob implements the Arbitrator: re-check the path's
// existence on disk before honoring the delete, converting spurious
// delete events from rapid rename/replace patterns into a no-op (the
// file still exists, so there is nothing to remove; a subsequent index
// event, if any, re-syncs it).
func (o *Orchestrator) spawnDeleteJob(absPath string) {
	o.trackInFlight(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.lockout.release(absPath)
		defer o.trackInFlight(-1)
		defer o.cond.Broadcast()

		if _, err := os.Stat(absPath); err == nil {
			logger.Debugf("orchestrator: arbitrator found %s still present, skipping delete", absPath)
			return
		}

		rec, ok, err := o.files.FileByPath(absPath)
		if err != nil {
			logger.Errorf("orchestrator: delete lookup %s: %v", absPath, err)
			return
		}
		if !ok {
			return
		}
		if err := o.files.RemoveFile(rec.FileID); err != nil {
			logger.Errorf("orchestrator: delete %s: %v", absPath, err)
			return
		}
		o.metrics.IndexJobsTotal.WithLabelValues(string(indexer.OutcomeRemoved)).Inc()
	}()
}

// spawnSearchJob runs one Searcher.Run call. The caller (dispatchBatch)
// has already claimed a slot with searchSem.TryAcquire, capping this at
// searchCfg.MaxConcurrent (default 2) concurrent queries per spec.md
// §4.3/§4.5 without ever blocking the dispatcher goroutine.
func (o *Orchestrator) spawnSearchJob(ctx context.Context, query string) {
	o.trackInFlight(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.searchSem.Release(1)
		defer o.trackInFlight(-1)
		defer o.cond.Broadcast()

		start := time.Now()
		if err := o.searcher.Run(ctx, query); err != nil {
			logger.Errorf("orchestrator: search %q: %v", query, err)
		}
		o.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		o.metrics.SearchJobsTotal.Inc()
	}()
}

// IsSteady reports whether the Bulk->Steady transition has already
// fired, for diagnostics and tests.
func (o *Orchestrator) IsSteady() bool {
	return o.mode.isSteady()
}

// LockoutDepth reports the Lockout Ledger's current size, for tests and
// metrics polling outside the event loop's own tick.
func (o *Orchestrator) LockoutDepth() int {
	return o.lockout.depth()
}
