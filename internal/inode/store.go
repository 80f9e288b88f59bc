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

package inode

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result is one ranked hit inside a SearchResultSet.
type Result struct {
	FileID      int64
	Score       float64
	DisplayName string
	Snippet     string
}

// SearchResultSet is the ephemeral, in-memory-only publication of a
// Searcher run, per spec.md §3.
type SearchResultSet struct {
	Query        string
	Results      []Result
	IndexVersion uint64
	PublishedAt  time.Time
}

// FileResolver is the slice of the Repository the Store needs: resolving a
// tag name under a parent, and a file's absolute path by file_id. Kept
// narrow so this package never imports internal/repository.
type FileResolver interface {
	LookupTagChild(parentTagID int64, name string) (tagID int64, ok bool, err error)
	FileAbsPath(fileID int64) (absPath string, ok bool, err error)
}

// Store is the Inode Store of spec.md §4.2.
type Store struct {
	resolver FileResolver

	mu sync.RWMutex

	// Ephemeral search-result sets, keyed by the query's ephemeral inode.
	// Bounded LRU (~50 entries) per spec.md §3.
	searchSets *lru.Cache[ID, *SearchResultSet]

	// waiters are notified (closed channel) when a query's results are
	// published, implementing the Smart Waiter of spec.md §4.1 readdir.
	waiters map[string]chan struct{}

	// results maps a ResultHash inode back to the query/file_id pair it
	// was minted from, so Resolve can distinguish a search-result
	// pseudo-file from its owning search view even though both share
	// EphemeralFlag. Entries are added at PublishSearch time and pruned
	// when their owning query's set is evicted from searchSets.
	results map[ID]resultRef

	indexVersion atomic.Uint64
	refreshSignal atomic.Bool
}

type resultRef struct {
	query  string
	fileID int64
}

// NewStore constructs a Store with the given ephemeral-cache capacity
// (spec.md's "~50").
func NewStore(resolver FileResolver, cacheCapacity int) *Store {
	if cacheCapacity <= 0 {
		cacheCapacity = 50
	}
	s := &Store{
		resolver: resolver,
		waiters:  make(map[string]chan struct{}),
		results:  make(map[ID]resultRef),
	}
	cache, err := lru.NewWithEvict[ID, *SearchResultSet](cacheCapacity, s.onEvictSet)
	if err != nil {
		// lru.New only errors on a non-positive size, which we've just
		// guarded against.
		panic(err)
	}
	s.searchSets = cache
	return s
}

// onEvictSet drops the result-index entries owned by an evicted query's
// set. Called by the LRU with s.mu already held by the caller of Add, so
// it must not itself lock.
func (s *Store) onEvictSet(_ ID, set *SearchResultSet) {
	for _, r := range set.Results {
		delete(s.results, ResultHash(set.Query, r.FileID))
	}
}

// Resolve routes an inode to its Entity, per the routing rule in spec.md
// §4.2: "inode >> (bits-1) == 1 => persistent tag. Else: look up in
// system table, file table, or ephemeral LRU."
func (s *Store) Resolve(id ID) (Entity, bool) {
	if IsPersistentTag(id) {
		return Entity{Kind: KindTag, TagID: TagIDFromInode(id)}, true
	}

	if name, ok := systemName(id); ok {
		return Entity{Kind: KindSystem, SystemName: name}, true
	}

	if IsEphemeral(id) {
		s.mu.RLock()
		ref, isResult := s.results[id]
		set, isView := s.searchSets.Peek(id)
		s.mu.RUnlock()

		if isResult {
			return Entity{Kind: KindSearchResult, ResultQuery: ref.query, ResultFileID: ref.fileID}, true
		}
		if isView {
			return Entity{Kind: KindSearchView, Query: set.Query}, true
		}
		// The set may have been evicted; the caller re-derives the query
		// text from the path component it already has, so an unresolved
		// ephemeral ID without a cached set still means "valid view, no
		// results yet" rather than "unknown inode". Callers distinguish
		// these via ResolveSearchView.
		return Entity{}, false
	}

	if id >= ID(FirstFileID) {
		if absPath, ok, err := s.resolver.FileAbsPath(int64(id)); err == nil && ok {
			return Entity{Kind: KindFile, FileID: int64(id), AbsPath: absPath}, true
		}
	}

	return Entity{}, false
}

func systemName(id ID) (string, bool) {
	switch id {
	case RootID:
		return "/", true
	case SearchID:
		return "search", true
	case TagsID:
		return "tags", true
	case InboxID:
		return "inbox", true
	case MirrorID:
		return "mirror", true
	case MagicID:
		return ".magic", true
	case RefreshID:
		return "refresh", true
	}
	return "", false
}

// InodeForTag is the pure function inode_for(Tag) of spec.md §4.2.
func (s *Store) InodeForTag(tagID int64) ID { return TagInode(tagID) }

// InodeForFile is the pure function inode_for(File) of spec.md §4.2.
func (s *Store) InodeForFile(fileID int64) ID { return FileInode(fileID) }

// InodeForQuery is the pure function inode_for(SearchView) of spec.md
// §4.2, minted without scheduling any work (the Ephemeral Promise).
func (s *Store) InodeForQuery(query string) ID { return QueryHash(query) }

// InodeForResult is the pure function inode_for(SearchResult).
func (s *Store) InodeForResult(query string, fileID int64) ID {
	return ResultHash(query, fileID)
}

// PublishSearch stores a SearchResultSet and wakes any readdir waiters for
// that query, per spec.md §4.2/§4.5's publish contract.
func (s *Store) PublishSearch(query string, results []Result) {
	set := &SearchResultSet{
		Query:        query,
		Results:      results,
		IndexVersion: s.indexVersion.Load(),
		PublishedAt:  time.Now(),
	}

	id := QueryHash(query)

	s.mu.Lock()
	s.searchSets.Add(id, set)
	for _, r := range results {
		s.results[ResultHash(query, r.FileID)] = resultRef{query: query, fileID: r.FileID}
	}
	waiter, ok := s.waiters[query]
	delete(s.waiters, query)
	s.mu.Unlock()

	if ok {
		close(waiter)
	}
}

// WaitForQuery returns a channel that closes when query's results are
// published, and the set itself if it's already cached and still current
// (IndexVersion unchanged since publication). This is the Smart Waiter's
// registration half; internal/fsface.readdir selects on it with a
// timeout.
func (s *Store) WaitForQuery(query string) (set *SearchResultSet, fresh bool, wait <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := QueryHash(query)
	if cached, ok := s.searchSets.Get(id); ok {
		if cached.IndexVersion == s.indexVersion.Load() {
			return cached, true, nil
		}
	}

	ch, ok := s.waiters[query]
	if !ok {
		ch = make(chan struct{})
		s.waiters[query] = ch
	}
	return nil, false, ch
}

// LookupCachedResult returns a previously published SearchResultSet for
// query, regardless of freshness (used to serve a timed-out readdir with
// "whatever is currently published", per spec.md §5 cancellation rules).
func (s *Store) LookupCachedResult(query string) (*SearchResultSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchSets.Peek(QueryHash(query))
}

// Invalidate drops any ephemeral entries derived from fileID. Search
// result sets are not individually keyed by file, so invalidation here is
// achieved structurally: BumpIndexVersion (called by the Indexer after
// every write) makes every cached set's IndexVersion stale, and stale
// sets are treated as cache misses by WaitForQuery. Invalidate exists as
// an explicit hook for callers (e.g. the Lazy Reaper) that want to force
// eviction of one file's results without waiting on a version bump.
func (s *Store) Invalidate(fileID int64) {
	// No per-file secondary index is maintained (ephemeral sets are keyed
	// by query, not file); version bumping is the mechanism that actually
	// invalidates. This method is intentionally a no-op beyond that,
	// documented so future per-file caching does not silently skip it.
	_ = fileID
}

// BumpIndexVersion increments the process-global index-version counter
// after any indexer-induced change, per spec.md §4.2.
func (s *Store) BumpIndexVersion() uint64 {
	return s.indexVersion.Add(1)
}

// IndexVersion returns the current index-version counter.
func (s *Store) IndexVersion() uint64 {
	return s.indexVersion.Load()
}

// SetRefreshSignal and ClearRefreshSignal implement the /.magic/refresh
// control file of spec.md §4.1/§4.6: writing to it sets a global flag the
// Watcher polls.
func (s *Store) SetRefreshSignal() { s.refreshSignal.Store(true) }

func (s *Store) ClearRefreshSignal() bool {
	return s.refreshSignal.CompareAndSwap(true, false)
}
