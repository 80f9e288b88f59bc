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

package repository

import (
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Aggregation picks how a file's many chunk-level distances combine
// into one file-level score, per spec.md §4.5's resolved open
// question.
type Aggregation string

const (
	AggregationMin  Aggregation = "min"
	AggregationMean Aggregation = "mean"
)

// ChunkHit is one nearest-neighbor row returned from chunks_vec.
type ChunkHit struct {
	FileID   int64
	Ordinal  int
	Distance float64
}

// NearestChunks runs the vector similarity search of spec.md §4.5
// against chunks_vec, returning the topK nearest chunks by cosine
// distance across the whole corpus (not yet aggregated to file level).
func (r *Repository) NearestChunks(queryEmbedding []float32, topK int) ([]ChunkHit, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT file_id, ordinal, distance
		FROM chunks_vec
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("nearest chunks query: %w", err)
	}
	defer rows.Close()

	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.FileID, &h.Ordinal, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FileScore is one file's aggregated similarity score, ready for
// ranking and inode-minting by internal/searcher.
type FileScore struct {
	FileID      int64
	Distance    float64
	BestOrdinal int
}

// AggregateByFile collapses per-chunk hits into per-file scores using
// the configured aggregation strategy, and returns them sorted by
// ascending distance (best match first).
func AggregateByFile(hits []ChunkHit, agg Aggregation) []FileScore {
	type acc struct {
		sum         float64
		count       int
		min         float64
		bestOrdinal int
	}
	byFile := make(map[int64]*acc)
	order := make([]int64, 0)

	for _, h := range hits {
		a, ok := byFile[h.FileID]
		if !ok {
			a = &acc{min: h.Distance, bestOrdinal: h.Ordinal}
			byFile[h.FileID] = a
			order = append(order, h.FileID)
		}
		a.sum += h.Distance
		a.count++
		if h.Distance < a.min {
			a.min = h.Distance
			a.bestOrdinal = h.Ordinal
		}
	}

	out := make([]FileScore, 0, len(order))
	for _, fileID := range order {
		a := byFile[fileID]
		d := a.min
		if agg == AggregationMean {
			d = a.sum / float64(a.count)
		}
		out = append(out, FileScore{FileID: fileID, Distance: d, BestOrdinal: a.bestOrdinal})
	}

	// Insertion sort is fine here: topK is bounded (spec.md default 75)
	// and this runs once per search, not in a hot loop.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Distance < out[j-1].Distance; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// LexicalHit is one match from the FTS5 fallback path.
type LexicalHit struct {
	FileID int64
	Rank   float64
}

// LexicalSearch runs the FTS5 fallback of spec.md §4.5, used when the
// Embedding Actor is unavailable or returns an error, so search degrades
// to keyword matching instead of failing outright.
func (r *Repository) LexicalSearch(query string, topK int) ([]LexicalHit, error) {
	rows, err := r.db.Query(`
		SELECT c.file_id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, topK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	var out []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.FileID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		if seen[h.FileID] {
			continue
		}
		seen[h.FileID] = true
		out = append(out, h)
	}
	return out, rows.Err()
}
