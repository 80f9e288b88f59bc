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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/fsface"
	"github.com/bryceygordon/MagicFS/internal/inode"
)

func newTestFS(t *testing.T) (*fsface.FileSystem, *fakeTags, *fakeFiles, *fakeInodes, *fakeSubmitter, *fakeArchiver) {
	t.Helper()
	dir := t.TempDir()
	inboxDir := filepath.Join(dir, "inbox")
	archiveDir := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(inboxDir, 0755))
	require.NoError(t, os.MkdirAll(archiveDir, 0755))

	tags := newFakeTags()
	files := newFakeFiles()
	inodes := newFakeInodes()
	inodes.files = files
	sub := &fakeSubmitter{}
	arc := &fakeArchiver{inboxDir: inboxDir, archiveDir: archiveDir}

	fs := fsface.New(cfg.FuseConfig{Uid: -1, Gid: -1}, cfg.SearchConfig{}, nil, tags, files, arc, sub, inodes)
	return fs, tags, files, inodes, sub, arc
}

// TestUnlinkDropsOnlyOneTagEdge confirms unlinking a file's name inside
// a tag directory drops only that tag edge; the physical file and its
// membership under other tags survive untouched. This is a soft
// delete, distinct from the Lazy Reaper's stat-and-purge path exercised
// below.
func TestUnlinkDropsOnlyOneTagEdge(t *testing.T) {
	fs, tags, files, _, _, _ := newTestFS(t)

	fid, err := files.UpsertFile("/watch/report.txt", time.Now(), 1024, false)
	require.NoError(t, err)

	require.NoError(t, tags.AddFileTag(fid, 1, "report.txt"))
	require.NoError(t, tags.AddFileTag(fid, 2, "report.txt"))

	op := &fuseops.UnlinkOp{Parent: fuseops.InodeID(inode.TagInode(1)), Name: "report.txt"}
	require.NoError(t, fs.Unlink(op))

	entriesTag1, err := tags.FilesUnderTag(1)
	require.NoError(t, err)
	require.Empty(t, entriesTag1)

	entriesTag2, err := tags.FilesUnderTag(2)
	require.NoError(t, err)
	require.Len(t, entriesTag2, 1)

	rec, ok, err := files.FileByID(fid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/watch/report.txt", rec.AbsPath)
}

// TestLazyReaperPurgesGhostFromTagListing exercises invariant 1 for
// real: a file removed from disk out-of-band must vanish from a
// readdir of any tag it's filed under, and its repository row must be
// gone by the time that same ReadDir call returns (Scenario E).
func TestLazyReaperPurgesGhostFromTagListing(t *testing.T) {
	fs, tags, files, _, _, _ := newTestFS(t)

	dir := t.TempDir()
	ghostPath := filepath.Join(dir, "ghost.txt")
	require.NoError(t, os.WriteFile(ghostPath, []byte("x"), 0644))

	survivorPath := filepath.Join(dir, "survivor.txt")
	require.NoError(t, os.WriteFile(survivorPath, []byte("y"), 0644))

	ghostID, err := files.UpsertFile(ghostPath, time.Now(), 1, false)
	require.NoError(t, err)
	survivorID, err := files.UpsertFile(survivorPath, time.Now(), 1, false)
	require.NoError(t, err)

	require.NoError(t, tags.AddFileTag(ghostID, 1, "ghost.txt"))
	require.NoError(t, tags.AddFileTag(survivorID, 1, "survivor.txt"))

	require.NoError(t, os.Remove(ghostPath))

	openOp := &fuseops.OpenDirOp{Inode: fuseops.InodeID(inode.TagInode(1))}
	require.NoError(t, fs.OpenDir(openOp))
	readOp := &fuseops.ReadDirOp{
		Inode:  fuseops.InodeID(inode.TagInode(1)),
		Handle: openOp.Handle,
		Offset: 0,
		Size:   1 << 20,
	}
	require.NoError(t, fs.ReadDir(readOp))

	entries, err := tags.FilesUnderTag(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "survivor.txt", entries[0].DisplayName)

	_, ok, err := files.FileByID(ghostID)
	require.NoError(t, err)
	require.False(t, ok, "ghost's repository row must be purged by the end of the ReadDir call")

	_, ok, err = files.FileByID(survivorID)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestLazyReaperPurgesGhostFromSearchListing is the /search/... half of
// the same invariant: a surviving search hit whose physical path has
// since been deleted must be excluded from the listing and purged from
// the repository within the same ReadDir call.
func TestLazyReaperPurgesGhostFromSearchListing(t *testing.T) {
	fs, _, files, fakeIn, _, _ := newTestFS(t)

	dir := t.TempDir()
	ghostPath := filepath.Join(dir, "ghost.txt")
	require.NoError(t, os.WriteFile(ghostPath, []byte("x"), 0644))
	survivorPath := filepath.Join(dir, "survivor.txt")
	require.NoError(t, os.WriteFile(survivorPath, []byte("y"), 0644))

	ghostID, err := files.UpsertFile(ghostPath, time.Now(), 1, false)
	require.NoError(t, err)
	survivorID, err := files.UpsertFile(survivorPath, time.Now(), 1, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(ghostPath))

	queryInode := fakeIn.InodeForQuery("roast beef")
	fakeIn.publish("roast beef", []inode.Result{
		{FileID: ghostID, DisplayName: "ghost.txt"},
		{FileID: survivorID, DisplayName: "survivor.txt"},
	})

	openOp := &fuseops.OpenDirOp{Inode: fuseops.InodeID(queryInode)}
	require.NoError(t, fs.OpenDir(openOp))
	readOp := &fuseops.ReadDirOp{
		Inode:  fuseops.InodeID(queryInode),
		Handle: openOp.Handle,
		Offset: 0,
		Size:   1 << 20,
	}
	require.NoError(t, fs.ReadDir(readOp))
	require.NotContains(t, string(readOp.Data), "ghost.txt")

	_, ok, err := files.FileByID(ghostID)
	require.NoError(t, err)
	require.False(t, ok, "ghost's repository row must be purged by the end of the ReadDir call")

	_, ok, err = files.FileByID(survivorID)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestReadDirTagListsChildrenAndFiles exercises a basic /tags/<name>
// listing with both a nested tag and a tagged file.
func TestReadDirTagListsChildrenAndFiles(t *testing.T) {
	fs, tags, files, _, _, _ := newTestFS(t)

	childTagID, err := tags.CreateTag(1, "urgent", false)
	require.NoError(t, err)

	// The file must exist on disk, or the Lazy Reaper purges it from the
	// listing.
	taggedPath := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(taggedPath, []byte("a"), 0644))

	fid, err := files.UpsertFile(taggedPath, time.Now(), 10, false)
	require.NoError(t, err)
	require.NoError(t, tags.AddFileTag(fid, 1, "a.txt"))

	openOp := &fuseops.OpenDirOp{Inode: fuseops.InodeID(inode.TagInode(1))}
	require.NoError(t, fs.OpenDir(openOp))

	readOp := &fuseops.ReadDirOp{
		Inode:  fuseops.InodeID(inode.TagInode(1)),
		Handle: openOp.Handle,
		Offset: 0,
		Size:   1 << 20,
	}
	require.NoError(t, fs.ReadDir(readOp))
	require.NotEmpty(t, readOp.Data)
	require.NotZero(t, childTagID)
	require.Contains(t, string(readOp.Data), "urgent")
	require.Contains(t, string(readOp.Data), "a.txt")
}

// TestSmartWaiterWakesOnPublish exercises invariant 6: a readdir on an
// unresolved /search/<query> view submits the query and blocks until
// the Searcher publishes, rather than returning an empty listing.
func TestSmartWaiterWakesOnPublish(t *testing.T) {
	fs, _, _, fakeIn, sub, _ := newTestFS(t)

	queryInode := fakeIn.InodeForQuery("roast beef")

	openOp := &fuseops.OpenDirOp{Inode: fuseops.InodeID(queryInode)}
	require.NoError(t, fs.OpenDir(openOp))

	done := make(chan error, 1)
	go func() {
		readOp := &fuseops.ReadDirOp{
			Inode:  fuseops.InodeID(queryInode),
			Handle: openOp.Handle,
			Offset: 0,
			Size:   1 << 20,
		}
		done <- fs.ReadDir(readOp)
	}()

	require.Eventually(t, func() bool {
		return len(sub.queries) == 1
	}, time.Second, time.Millisecond)

	fakeIn.publish("roast beef", []inode.Result{{FileID: 200, DisplayName: "0.90_a.txt"}})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadDir never returned after publish")
	}
}
