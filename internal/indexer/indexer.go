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

package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/logger"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// Embedder is the slice of internal/embedact.Actor the Indexer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of *repository.Repository the Indexer writes
// through, kept narrow so this package is easy to test with a fake.
type Store interface {
	NeedsReindex(absPath string, mtime time.Time, size int64, tolerance time.Duration) (bool, error)
	FileByPath(absPath string) (repository.FileRecord, bool, error)
	UpsertFile(absPath string, mtime time.Time, size int64, isDir bool) (int64, error)
	RemoveFile(fileID int64) error
	ReplaceChunks(fileID int64, chunks []repository.Chunk) error
	DeleteChunks(fileID int64) error
	TagsForFile(fileID int64) ([]repository.Tag, error)
}

// VersionBumper is the inode-store hook notified after every committed
// write, so readdir's Smart Waiter sees fresh results (spec.md §4.2).
type VersionBumper interface {
	BumpIndexVersion() uint64
}

// Indexer is the pipeline of spec.md §4.3: metadata probe, extraction,
// chunking, context decoration, batch embedding, and transactional
// write.
type Indexer struct {
	cfg      cfg.IndexerConfig
	bouncer  *Bouncer
	store    Store
	embedder Embedder
	versions VersionBumper
}

// New constructs an Indexer.
func New(c cfg.IndexerConfig, bouncer *Bouncer, store Store, embedder Embedder, versions VersionBumper) *Indexer {
	return &Indexer{cfg: c, bouncer: bouncer, store: store, embedder: embedder, versions: versions}
}

// Outcome reports what IndexFile actually did, for the Orchestrator's
// logging and metrics.
type Outcome string

const (
	OutcomeIndexed  Outcome = "indexed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeRemoved  Outcome = "removed"
)

// IndexFile runs the full pipeline for one file path. Deletion is
// handled by the caller (the Orchestrator's Arbitrator re-checks
// existence before calling RemoveFile directly); IndexFile assumes
// absPath currently exists.
func (ix *Indexer) IndexFile(ctx context.Context, absPath string) (Outcome, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("stat %s: %w", absPath, err)
	}

	if info.IsDir() {
		if _, err := ix.store.UpsertFile(absPath, info.ModTime(), 0, true); err != nil {
			return OutcomeSkipped, fmt.Errorf("upsert directory %s: %w", absPath, err)
		}
		return OutcomeUpToDate, nil
	}

	admitted, reason := ix.bouncer.Admit(absPath, info)
	if !admitted {
		logger.Debugf("indexer: bouncer rejected %s (%s)", absPath, reason)
		if reason == SkipIgnorePattern {
			removed, err := ix.purgeIfIndexed(absPath)
			if err != nil {
				return OutcomeSkipped, fmt.Errorf("purge newly-ignored %s: %w", absPath, err)
			}
			if removed {
				return OutcomeRemoved, nil
			}
		}
		return OutcomeSkipped, nil
	}

	needs, err := ix.store.NeedsReindex(absPath, info.ModTime(), info.Size(), ix.cfg.MTimeTolerance)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("reindex probe %s: %w", absPath, err)
	}
	if !needs {
		return OutcomeUpToDate, nil
	}

	fileID, err := ix.store.UpsertFile(absPath, info.ModTime(), info.Size(), false)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("upsert file %s: %w", absPath, err)
	}

	extractor := SelectExtractor(absPath)
	text, err := extractor.Extract(absPath)
	if errors.Is(err, ErrUnsupportedFormat) {
		// Filename/tag-only indexing: no chunks, but the file row
		// (and its inode) still exists and is still taggable.
		if err := ix.store.DeleteChunks(fileID); err != nil {
			return OutcomeSkipped, fmt.Errorf("clear chunks %s: %w", absPath, err)
		}
		ix.versions.BumpIndexVersion()
		return OutcomeIndexed, nil
	}
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("extract %s: %w", absPath, err)
	}

	pieces := Chunk(text, ix.cfg.ChunkSizeChars)
	if len(pieces) == 0 {
		if err := ix.store.DeleteChunks(fileID); err != nil {
			return OutcomeSkipped, fmt.Errorf("clear chunks %s: %w", absPath, err)
		}
		ix.versions.BumpIndexVersion()
		return OutcomeIndexed, nil
	}

	tags, err := ix.store.TagsForFile(fileID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("load tags for %s: %w", absPath, err)
	}
	decorated := decoratePayloads(absPath, tags, pieces)

	chunks, err := ix.embedChunks(ctx, pieces, decorated, ix.cfg.EmbedBatchLimit)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("embed %s: %w", absPath, err)
	}

	if err := ix.store.ReplaceChunks(fileID, chunks); err != nil {
		return OutcomeSkipped, fmt.Errorf("write chunks %s: %w", absPath, err)
	}
	ix.versions.BumpIndexVersion()

	return OutcomeIndexed, nil
}

// purgeIfIndexed drops absPath's existing file row (and, via the
// files->chunks/file_tags foreign keys' ON DELETE CASCADE, its chunks
// and tag filings) when a newly added .magicfsignore rule makes a
// previously indexed file ineligible. spec.md §8 requires this to
// happen within the same event tick that produced the rejection.
func (ix *Indexer) purgeIfIndexed(absPath string) (bool, error) {
	rec, ok, err := ix.store.FileByPath(absPath)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", absPath, err)
	}
	if !ok {
		return false, nil
	}
	if err := ix.store.RemoveFile(rec.FileID); err != nil {
		return false, fmt.Errorf("remove %s: %w", absPath, err)
	}
	ix.versions.BumpIndexVersion()
	return true, nil
}

// decoratePayloads prepends a "Filename: ...\nTags: ...\n---\n" header
// to each chunk's text before embedding, per spec.md §4.3's context
// decoration step — this is what lets a query like "the tax pdf from
// last year" match on filename/tag context even when the chunk text
// itself never mentions taxes.
func decoratePayloads(absPath string, tags []repository.Tag, pieces []string) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	header := fmt.Sprintf("Filename: %s\nTags: %s\n---\n", baseName(absPath), strings.Join(names, ", "))

	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = header + p
	}
	return out
}

func baseName(absPath string) string {
	idx := strings.LastIndexByte(absPath, '/')
	if idx < 0 {
		return absPath
	}
	return absPath[idx+1:]
}

// embedChunks batches decorated payloads through the embedder at most
// batchLimit at a time, and pairs the resulting vectors back up with
// their original (undecorated) text for storage — the decoration is
// an embedding-time-only signal, not part of the persisted snippet.
func (ix *Indexer) embedChunks(ctx context.Context, original, decorated []string, batchLimit int) ([]repository.Chunk, error) {
	if batchLimit <= 0 {
		batchLimit = 64
	}

	var out []repository.Chunk
	for start := 0; start < len(decorated); start += batchLimit {
		end := start + batchLimit
		if end > len(decorated) {
			end = len(decorated)
		}

		vectors, err := ix.embedder.Embed(ctx, decorated[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d): %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch [%d:%d): expected %d vectors, got %d", start, end, end-start, len(vectors))
		}

		for i, vec := range vectors {
			out = append(out, repository.Chunk{
				Ordinal:   start + i,
				Text:      original[start+i],
				Embedding: vec,
			})
		}
	}
	return out, nil
}
