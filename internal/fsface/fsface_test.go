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

package fsface_test

import (
	"time"

	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// fakeTags is an in-memory TagStore double, tracking only what the
// fsface tests exercise: a flat parent->children map and file
// memberships.
type fakeTags struct {
	nextID   int64
	tags     map[int64]repository.Tag
	children map[int64][]int64
	files    map[int64][]repository.FileTagEntry // tagID -> entries
}

func newFakeTags() *fakeTags {
	return &fakeTags{
		nextID:   1,
		tags:     make(map[int64]repository.Tag),
		children: make(map[int64][]int64),
		files:    make(map[int64][]repository.FileTagEntry),
	}
}

func (f *fakeTags) LookupTagChild(parentTagID int64, name string) (int64, bool, error) {
	for _, id := range f.children[parentTagID] {
		if f.tags[id].Name == name {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeTags) CreateTag(parentTagID int64, name string, isSystem bool) (int64, error) {
	id := f.nextID
	f.nextID++
	f.tags[id] = repository.Tag{TagID: id, Name: name, IsSystem: isSystem}
	f.children[parentTagID] = append(f.children[parentTagID], id)
	return id, nil
}

func (f *fakeTags) TagByID(tagID int64) (repository.Tag, bool, error) {
	t, ok := f.tags[tagID]
	return t, ok, nil
}

func (f *fakeTags) ChildTags(parentTagID int64) ([]repository.Tag, error) {
	var out []repository.Tag
	for _, id := range f.children[parentTagID] {
		out = append(out, f.tags[id])
	}
	return out, nil
}

func (f *fakeTags) MoveTag(srcTagID, newParentTagID int64) error {
	for parent, kids := range f.children {
		for i, id := range kids {
			if id == srcTagID {
				f.children[parent] = append(kids[:i], kids[i+1:]...)
			}
		}
	}
	f.children[newParentTagID] = append(f.children[newParentTagID], srcTagID)
	return nil
}

func (f *fakeTags) RenameTag(tagID int64, newName string) error {
	t := f.tags[tagID]
	t.Name = newName
	f.tags[tagID] = t
	return nil
}

func (f *fakeTags) DeleteTag(tagID int64) error {
	if len(f.children[tagID]) > 0 || len(f.files[tagID]) > 0 {
		return fserr.ErrNotEmpty
	}
	delete(f.tags, tagID)
	return nil
}

func (f *fakeTags) AddFileTag(fileID, tagID int64, displayName string) error {
	f.files[tagID] = append(f.files[tagID], repository.FileTagEntry{FileID: fileID, DisplayName: displayName})
	return nil
}

func (f *fakeTags) RemoveFileTag(fileID, tagID int64) error {
	entries := f.files[tagID]
	for i, e := range entries {
		if e.FileID == fileID {
			f.files[tagID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeTags) FilesUnderTag(tagID int64) ([]repository.FileTagEntry, error) {
	return f.files[tagID], nil
}

func (f *fakeTags) ResolveDisplayName(tagID int64, baseName string, dirParts []string) (string, error) {
	return baseName, nil
}

// fakeFiles is an in-memory FileStore double.
type fakeFiles struct {
	nextID  int64
	byID    map[int64]repository.FileRecord
	byPath  map[string]int64
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		nextID: 100,
		byID:   make(map[int64]repository.FileRecord),
		byPath: make(map[string]int64),
	}
}

func (f *fakeFiles) FileByID(fileID int64) (repository.FileRecord, bool, error) {
	rec, ok := f.byID[fileID]
	return rec, ok, nil
}

func (f *fakeFiles) FileByPath(absPath string) (repository.FileRecord, bool, error) {
	id, ok := f.byPath[absPath]
	if !ok {
		return repository.FileRecord{}, false, nil
	}
	return f.byID[id], true, nil
}

func (f *fakeFiles) UpsertFile(absPath string, mtime time.Time, size int64, isDir bool) (int64, error) {
	if id, ok := f.byPath[absPath]; ok {
		rec := f.byID[id]
		rec.MTime = mtime
		rec.Size = size
		f.byID[id] = rec
		return id, nil
	}
	id := f.nextID
	f.nextID++
	f.byID[id] = repository.FileRecord{FileID: id, AbsPath: absPath, MTime: mtime, Size: size, IsDir: isDir}
	f.byPath[absPath] = id
	return id, nil
}

func (f *fakeFiles) RemoveFile(fileID int64) error {
	rec, ok := f.byID[fileID]
	if !ok {
		return nil
	}
	delete(f.byPath, rec.AbsPath)
	delete(f.byID, fileID)
	return nil
}

func (f *fakeFiles) RenameFile(fileID int64, newAbsPath string) error {
	rec, ok := f.byID[fileID]
	if !ok {
		return nil
	}
	delete(f.byPath, rec.AbsPath)
	rec.AbsPath = newAbsPath
	f.byID[fileID] = rec
	f.byPath[newAbsPath] = fileID
	return nil
}

// fakeArchiver is a trivial Archiver double rooted at a temp directory.
type fakeArchiver struct {
	inboxDir   string
	archiveDir string
	nextID     int
}

func (a *fakeArchiver) AllocatePath(suggestedName string) (string, error) {
	a.nextID++
	return a.archiveDir + "/" + suggestedName, nil
}

func (a *fakeArchiver) InboxDir() string { return a.inboxDir }

// fakeSubmitter records every dispatch instead of handing it to a real
// Orchestrator.
type fakeSubmitter struct {
	indexed []string
	queries []string
	refresh int
}

func (s *fakeSubmitter) SubmitIndex(absPath string) { s.indexed = append(s.indexed, absPath) }
func (s *fakeSubmitter) SubmitSearch(query string)  { s.queries = append(s.queries, query) }
func (s *fakeSubmitter) SubmitRefresh()             { s.refresh++ }

// fakeInodes is an InodeStore double giving tests direct control over
// inode resolution without requiring a real Repository-backed
// inode.Store.
type fakeInodes struct {
	entities map[inode.ID]inode.Entity
	sets     map[string]*inode.SearchResultSet
	waiters  map[string]chan struct{}
	refresh  bool
	files    *fakeFiles // optional: backs on-demand KindFile resolution
}

func newFakeInodes() *fakeInodes {
	return &fakeInodes{
		entities: make(map[inode.ID]inode.Entity),
		sets:     make(map[string]*inode.SearchResultSet),
		waiters:  make(map[string]chan struct{}),
	}
}

var systemNames = map[inode.ID]string{
	inode.RootID:    "/",
	inode.SearchID:  "search",
	inode.TagsID:    "tags",
	inode.InboxID:   "inbox",
	inode.MirrorID:  "mirror",
	inode.MagicID:   ".magic",
	inode.RefreshID: "refresh",
}

func (f *fakeInodes) Resolve(id inode.ID) (inode.Entity, bool) {
	if inode.IsPersistentTag(id) {
		if e, ok := f.entities[id]; ok {
			return e, true
		}
		return inode.Entity{Kind: inode.KindTag, TagID: inode.TagIDFromInode(id)}, true
	}
	if name, ok := systemNames[id]; ok {
		return inode.Entity{Kind: inode.KindSystem, SystemName: name}, true
	}
	if e, ok := f.entities[id]; ok {
		return e, true
	}
	if f.files != nil {
		if rec, ok, err := f.files.FileByID(int64(id)); err == nil && ok {
			return inode.Entity{Kind: inode.KindFile, FileID: rec.FileID, AbsPath: rec.AbsPath}, true
		}
	}
	return inode.Entity{}, false
}

func (f *fakeInodes) InodeForTag(tagID int64) inode.ID   { return inode.TagInode(tagID) }
func (f *fakeInodes) InodeForFile(fileID int64) inode.ID { return inode.FileInode(fileID) }
func (f *fakeInodes) InodeForQuery(query string) inode.ID {
	id := inode.QueryHash(query)
	f.entities[id] = inode.Entity{Kind: inode.KindSearchView, Query: query}
	return id
}
func (f *fakeInodes) InodeForResult(query string, fileID int64) inode.ID {
	id := inode.ResultHash(query, fileID)
	f.entities[id] = inode.Entity{Kind: inode.KindSearchResult, ResultQuery: query, ResultFileID: fileID}
	return id
}

func (f *fakeInodes) WaitForQuery(query string) (*inode.SearchResultSet, bool, <-chan struct{}) {
	if set, ok := f.sets[query]; ok {
		return set, true, nil
	}
	ch, ok := f.waiters[query]
	if !ok {
		ch = make(chan struct{})
		f.waiters[query] = ch
	}
	return nil, false, ch
}

func (f *fakeInodes) LookupCachedResult(query string) (*inode.SearchResultSet, bool) {
	set, ok := f.sets[query]
	return set, ok
}

func (f *fakeInodes) publish(query string, results []inode.Result) {
	set := &inode.SearchResultSet{Query: query, Results: results}
	f.sets[query] = set
	for _, r := range results {
		f.entities[inode.ResultHash(query, r.FileID)] = inode.Entity{Kind: inode.KindSearchResult, ResultQuery: query, ResultFileID: r.FileID}
	}
	if ch, ok := f.waiters[query]; ok {
		close(ch)
		delete(f.waiters, query)
	}
}

func (f *fakeInodes) SetRefreshSignal() { f.refresh = true }
