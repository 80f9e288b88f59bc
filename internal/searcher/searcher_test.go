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

package searcher_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/repository"
	"github.com/bryceygordon/MagicFS/internal/searcher"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	hits      []repository.ChunkHit
	lexical   []repository.LexicalHit
	files     map[int64]string
	chunkText map[int64]string
	removed   map[int64]bool
}

func (f *fakeStore) NearestChunks(queryEmbedding []float32, topK int) ([]repository.ChunkHit, error) {
	return f.hits, nil
}

func (f *fakeStore) LexicalSearch(query string, topK int) ([]repository.LexicalHit, error) {
	return f.lexical, nil
}

func (f *fakeStore) FileByID(fileID int64) (repository.FileRecord, bool, error) {
	p, ok := f.files[fileID]
	if !ok {
		return repository.FileRecord{}, false, nil
	}
	return repository.FileRecord{FileID: fileID, AbsPath: p}, true, nil
}

func (f *fakeStore) ChunksForFile(fileID int64) ([]repository.Chunk, error) {
	return []repository.Chunk{{Ordinal: 0, Text: f.chunkText[fileID]}}, nil
}

func (f *fakeStore) RemoveFile(fileID int64) error {
	if f.removed == nil {
		f.removed = make(map[int64]bool)
	}
	f.removed[fileID] = true
	return nil
}

type fakeEmbedder struct {
	fail bool
}

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return [][]float32{{0.1, 0.2}}, nil
}

type fakePublisher struct {
	query   string
	results []inode.Result
}

func (f *fakePublisher) PublishSearch(query string, results []inode.Result) {
	f.query = query
	f.results = results
}

func testSearchConfig() cfg.SearchConfig {
	return cfg.SearchConfig{TopK: 10, Aggregation: "min"}
}

func touch(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	p := dir + "/" + name
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))
	return p
}

func TestSearcher_RunPublishesVectorResults(t *testing.T) {
	pathA := touch(t, "a.txt")
	pathB := touch(t, "b.txt")
	store := &fakeStore{
		hits: []repository.ChunkHit{
			{FileID: 1, Ordinal: 0, Distance: 0.1},
			{FileID: 2, Ordinal: 0, Distance: 0.4},
		},
		files:     map[int64]string{1: pathA, 2: pathB},
		chunkText: map[int64]string{1: "alpha content", 2: "beta content"},
	}
	pub := &fakePublisher{}
	s := searcher.New(testSearchConfig(), store, fakeEmbedder{}, pub)

	err := s.Run(context.Background(), "roast beef")
	require.NoError(t, err)
	require.Equal(t, "roast beef", pub.query)
	require.Len(t, pub.results, 2)
	require.Equal(t, int64(1), pub.results[0].FileID)
	require.Contains(t, pub.results[0].DisplayName, "a.txt")
}

func TestSearcher_FallsBackToLexicalOnEmbedFailure(t *testing.T) {
	pathC := touch(t, "c.txt")
	store := &fakeStore{
		lexical:   []repository.LexicalHit{{FileID: 5, Rank: -2.0}},
		files:     map[int64]string{5: pathC},
		chunkText: map[int64]string{5: "lexical content"},
	}
	pub := &fakePublisher{}
	s := searcher.New(testSearchConfig(), store, fakeEmbedder{fail: true}, pub)

	err := s.Run(context.Background(), "roast beef")
	require.NoError(t, err)
	require.Len(t, pub.results, 1)
	require.Contains(t, pub.results[0].DisplayName, "~_c.txt")
}

// TestSearcher_PurgesGhostFile exercises the Lazy Reaper invariant for
// /search/...: a file that scores a hit but whose physical path is gone
// must be excluded from the published results and removed from the
// repository within this same Run call.
func TestSearcher_PurgesGhostFile(t *testing.T) {
	pathAlive := touch(t, "alive.txt")
	store := &fakeStore{
		hits: []repository.ChunkHit{
			{FileID: 1, Ordinal: 0, Distance: 0.1},
			{FileID: 2, Ordinal: 0, Distance: 0.2},
		},
		files:     map[int64]string{1: pathAlive, 2: "/nonexistent/ghost.txt"},
		chunkText: map[int64]string{1: "alive content", 2: "ghost content"},
	}
	pub := &fakePublisher{}
	s := searcher.New(testSearchConfig(), store, fakeEmbedder{}, pub)

	err := s.Run(context.Background(), "roast beef")
	require.NoError(t, err)
	require.Len(t, pub.results, 1)
	require.Equal(t, int64(1), pub.results[0].FileID)
	require.True(t, store.removed[2], "ghost file must be purged from the repository")
}
