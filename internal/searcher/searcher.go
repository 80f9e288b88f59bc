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

// Package searcher implements spec.md §4.5: turning a query string
// typed as a directory name under /search into a ranked, published
// SearchResultSet.
package searcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/logger"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// Embedder is the slice of internal/embedact.Actor the Searcher needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of *repository.Repository the Searcher reads.
type Store interface {
	NearestChunks(queryEmbedding []float32, topK int) ([]repository.ChunkHit, error)
	LexicalSearch(query string, topK int) ([]repository.LexicalHit, error)
	FileByID(fileID int64) (repository.FileRecord, bool, error)
	ChunksForFile(fileID int64) ([]repository.Chunk, error)
	RemoveFile(fileID int64) error
}

// Publisher is the slice of *inode.Store the Searcher publishes
// results through.
type Publisher interface {
	PublishSearch(query string, results []inode.Result)
}

// Searcher is the component of spec.md §4.5.
type Searcher struct {
	cfg       cfg.SearchConfig
	store     Store
	embedder  Embedder
	publisher Publisher
}

// New constructs a Searcher.
func New(c cfg.SearchConfig, store Store, embedder Embedder, publisher Publisher) *Searcher {
	return &Searcher{cfg: c, store: store, embedder: embedder, publisher: publisher}
}

// Run executes one search for query and publishes its results,
// per spec.md §4.5: embed, search the vector index, aggregate,
// fall back to lexical search on embedding failure, format display
// names, and publish.
func (s *Searcher) Run(ctx context.Context, query string) error {
	scores, usedLexical, err := s.rank(ctx, query)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}

	results := make([]inode.Result, 0, len(scores))
	for _, sc := range scores {
		rec, ok, err := s.store.FileByID(sc.FileID)
		if err != nil {
			logger.Warnf("searcher: lookup file %d: %v", sc.FileID, err)
			continue
		}
		if !ok {
			continue
		}

		if _, statErr := os.Stat(rec.AbsPath); statErr != nil {
			if os.IsNotExist(statErr) {
				if err := s.store.RemoveFile(sc.FileID); err != nil {
					logger.Warnf("searcher: purge ghost %s: %v", rec.AbsPath, err)
				}
			} else {
				logger.Warnf("searcher: stat %s: %v", rec.AbsPath, statErr)
			}
			continue
		}

		similarity := 1 - sc.Distance
		if usedLexical {
			// Lexical rank is not a [0,1] similarity; surface a
			// neutral placeholder rather than a misleading number.
			similarity = 0
		}

		out := inode.Result{
			FileID:      sc.FileID,
			Score:       similarity,
			DisplayName: displayName(similarity, rec.AbsPath, usedLexical),
		}
		if snippet, err := s.snippet(sc.FileID, sc.BestOrdinal); err == nil {
			out.Snippet = snippet
		}
		results = append(results, out)
	}

	s.publisher.PublishSearch(query, results)
	return nil
}

// rank returns per-file scores for query, using vector search when the
// embedder succeeds and falling back to FTS5 lexical search per
// spec.md §4.5 ("if the Embedding Actor errors or times out, degrade
// to a lexical-only result set rather than returning nothing").
func (s *Searcher) rank(ctx context.Context, query string) ([]repository.FileScore, bool, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		logger.Warnf("searcher: embedding unavailable for %q, falling back to lexical search: %v", query, err)
		hits, lexErr := s.store.LexicalSearch(query, s.cfg.TopK)
		if lexErr != nil {
			return nil, true, fmt.Errorf("lexical fallback: %w", lexErr)
		}
		scores := make([]repository.FileScore, len(hits))
		for i, h := range hits {
			scores[i] = repository.FileScore{FileID: h.FileID, Distance: h.Rank}
		}
		return scores, true, nil
	}

	hits, err := s.store.NearestChunks(vectors[0], s.cfg.TopK)
	if err != nil {
		return nil, false, fmt.Errorf("nearest chunks: %w", err)
	}

	agg := repository.AggregationMin
	if s.cfg.Aggregation == string(repository.AggregationMean) {
		agg = repository.AggregationMean
	}
	return repository.AggregateByFile(hits, agg), false, nil
}

// snippet rebuilds a short preview from the best-matching chunk's
// persisted text, per spec.md §9's always-persist-snippets decision.
func (s *Searcher) snippet(fileID int64, ordinal int) (string, error) {
	chunks, err := s.store.ChunksForFile(fileID)
	if err != nil {
		return "", err
	}
	for _, c := range chunks {
		if c.Ordinal == ordinal {
			return truncate(c.Text, 200), nil
		}
	}
	if len(chunks) > 0 {
		return truncate(chunks[0].Text, 200), nil
	}
	return "", nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}

// displayName formats a search result's directory entry name as
// "0.XX_basename.ext", per spec.md §4.5, so the score is visible
// directly in a directory listing without opening the file.
func displayName(similarity float64, absPath string, usedLexical bool) string {
	base := filepath.Base(absPath)
	if usedLexical {
		return "~_" + base
	}
	if similarity < 0 {
		similarity = 0
	}
	if similarity > 0.99 {
		similarity = 0.99
	}
	return fmt.Sprintf("%.2f_%s", similarity, base)
}
