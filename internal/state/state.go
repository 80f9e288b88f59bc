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

// Package state assembles the single process-wide object graph of
// spec.md §9 "Global state": the Repository, the Inode Store, the
// Orchestrator (which owns the Lockout Ledger and mode tracker
// internally), the Embedding Actor, the archive allocator, and the
// Watcher. It is constructed once at startup by cmd/mount.go, after
// config validation, and torn down on SIGTERM.
package state

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/archive"
	"github.com/bryceygordon/MagicFS/internal/embedact"
	"github.com/bryceygordon/MagicFS/internal/fsface"
	"github.com/bryceygordon/MagicFS/internal/indexer"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/logger"
	"github.com/bryceygordon/MagicFS/internal/metrics"
	"github.com/bryceygordon/MagicFS/internal/orchestrator"
	"github.com/bryceygordon/MagicFS/internal/repository"
	"github.com/bryceygordon/MagicFS/internal/searcher"
	"github.com/bryceygordon/MagicFS/internal/watcher"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the daemon's process-wide object graph.
type State struct {
	Repo         *repository.Repository
	Inodes       *inode.Store
	Actor        *embedact.Actor
	Archive      *archive.Archive
	Orchestrator *orchestrator.Orchestrator
	Watcher      *watcher.Watcher
	FileSystem   *fsface.FileSystem
	Metrics      *metrics.Registry

	cancel context.CancelFunc
}

// New builds every component named above, wiring each one's narrow
// interface to its concrete dependency, per SPEC_FULL.md's component
// map (§4.3-§4.9). The embedder is constructed by the caller (its
// concrete type depends on whether a real ONNX model is configured or
// a test fake is substituted) and handed in already running.
func New(c *cfg.Config, embedder embedact.Embedder, reg prometheus.Registerer) (*State, error) {
	dbDir := c.Paths.DataDir
	if dbDir == "" {
		return nil, fmt.Errorf("paths.data-dir must be resolved before state.New is called")
	}
	modelDir := fmt.Sprintf("magicfs_%s", c.Paths.ModelID)
	dbPath := filepath.Join(dbDir, modelDir, "index.db")

	actor := embedact.New(embedder, 0)

	repo, err := repository.Open(dbPath, actor.Dimensions())
	if err != nil {
		actor.Stop()
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if err := repo.EnsureSystemTags(c.Tags.TrashEnabled, c.Tags.TrashTagName); err != nil {
		repo.Close()
		actor.Stop()
		return nil, fmt.Errorf("ensure system tags: %w", err)
	}

	arc, err := archive.New(dbDir)
	if err != nil {
		repo.Close()
		actor.Stop()
		return nil, fmt.Errorf("init archive: %w", err)
	}

	inodes := inode.NewStore(repo, 50)

	reg2 := metrics.New(reg)

	ignores := indexer.NewIgnoreSet()
	bouncer := indexer.NewBouncer(c.Bouncer, ignores)
	ix := indexer.New(c.Indexer, bouncer, repo, actor, inodes)
	sr := searcher.New(c.Search, repo, actor, inodes)

	orch := orchestrator.New(c.Indexer, c.Search, ix, sr, repo, inodes, repo, reg2)

	w, err := watcher.New(c.Watcher, c.WatchRoots, ignores, orch, inodes)
	if err != nil {
		repo.Close()
		actor.Stop()
		return nil, fmt.Errorf("init watcher: %w", err)
	}

	fs := fsface.New(c.Fuse, c.Search, c.WatchRoots, repo, repo, arc, orch, inodes)

	return &State{
		Repo:         repo,
		Inodes:       inodes,
		Actor:        actor,
		Archive:      arc,
		Orchestrator: orch,
		Watcher:      w,
		FileSystem:   fs,
		Metrics:      reg2,
	}, nil
}

// Run starts the Orchestrator's event loop and the Watcher's scan/event
// loop, both bound to ctx, and blocks until either exits or ctx is
// canceled.
func (s *State) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	errCh := make(chan error, 2)
	go func() { errCh <- s.Orchestrator.Run(ctx) }()
	go func() { errCh <- s.Watcher.Run(ctx) }()

	err := <-errCh
	cancel()
	<-errCh
	return err
}

// Close tears down the object graph in dependency order: the actor's
// native session last, since the Indexer and Searcher may still be
// mid-flight when a fast shutdown is requested.
func (s *State) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.Actor.Stop(); err != nil {
		logger.Warnf("state: stop embedding actor: %v", err)
	}
	if err := s.Repo.Close(); err != nil {
		return fmt.Errorf("close repository: %w", err)
	}
	return nil
}
