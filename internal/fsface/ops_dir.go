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

package fsface

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/bryceygordon/MagicFS/internal/inode"
)

// MkDir is legal only under /tags, per spec.md §4.1/§4.7: it creates a
// new tag node as a child of the tag directory being mkdir'd into.
func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	ent, ok := fs.inodes.Resolve(inode.ID(op.Parent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	var parentTagID int64
	switch {
	case ent.Kind == inode.KindSystem && ent.SystemName == "tags":
		parentTagID = 0
	case ent.Kind == inode.KindTag:
		parentTagID = ent.TagID
	default:
		return fserr.ToErrno(fserr.ErrPermission)
	}

	if _, ok, err := fs.tags.LookupTagChild(parentTagID, op.Name); err != nil {
		return fserr.ToErrno(err)
	} else if ok {
		return fserr.ToErrno(fserr.ErrExists)
	}

	tagID, err := fs.tags.CreateTag(parentTagID, op.Name, false)
	if err != nil {
		return fserr.ToErrno(err)
	}

	attrs, err := fs.attributesFor(fs.inodes.InodeForTag(tagID))
	if err != nil {
		return fserr.ToErrno(err)
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(fs.inodes.InodeForTag(tagID)),
		Attributes: attrs,
	}
	return nil
}

// RmDir removes an empty tag, per spec.md §4.7's "ENOTEMPTY unless it
// is empty of both child tags and tagged files" rule (enforced by
// Repository.DeleteTag).
func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	ent, ok := fs.inodes.Resolve(inode.ID(op.Parent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	var parentTagID int64
	switch {
	case ent.Kind == inode.KindSystem && ent.SystemName == "tags":
		parentTagID = 0
	case ent.Kind == inode.KindTag:
		parentTagID = ent.TagID
	default:
		return fserr.ToErrno(fserr.ErrNotSupported)
	}

	childTagID, ok, err := fs.tags.LookupTagChild(parentTagID, op.Name)
	if err != nil {
		return fserr.ToErrno(err)
	}
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	if tag, ok, err := fs.tags.TagByID(childTagID); err != nil {
		return fserr.ToErrno(err)
	} else if ok && tag.IsSystem {
		return fserr.ToErrno(fserr.ErrPermission)
	}

	if err := fs.tags.DeleteTag(childTagID); err != nil {
		return fserr.ToErrno(err)
	}
	return nil
}

// OpenDir allocates a dirHandle. Listing is computed lazily by the
// first ReadDir call so a /search/<query> handle can perform its Smart
// Waiter block there instead of here (OpenDir must not itself block).
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	ent, ok := fs.inodes.Resolve(inode.ID(op.Inode))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	dh := &dirHandle{}
	if ent.Kind == inode.KindSearchView {
		dh.query = ent.Query
	}

	fs.mu.Lock()
	handle := fs.allocateHandle()
	fs.dirHandles[handle] = dh
	fs.mu.Unlock()

	op.Handle = handle
	return nil
}

// ReadDir serves buffered directory entries, building them on first
// call (offset zero, per the rewinddir convention) and blocking for a
// published result set when the handle is a search view, per spec.md
// §4.1's Smart Waiter.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	if op.Offset == 0 {
		dh.built = false
	}

	if !dh.built {
		entries, err := fs.buildEntries(inode.ID(op.Inode), dh.query)
		if err != nil {
			return fserr.ToErrno(err)
		}
		dh.entries = entries
		dh.built = true
	}

	if int(op.Offset) > len(dh.entries) {
		return fserr.ToErrno(fserr.ErrInvalidArgument)
	}

	for _, e := range dh.entries[op.Offset:] {
		data := fuseutil.AppendDirent(op.Data, e)
		if len(data) > op.Size {
			break
		}
		op.Data = data
	}
	return nil
}

// ReleaseDirHandle drops a dirHandle.
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

// buildEntries computes the full listing for one directory inode. For
// a search view this performs the Smart Waiter block: submit the query
// if it hasn't been already, then wait up to the configured timeout for
// a published result set before falling back to whatever is currently
// cached (possibly none).
func (fs *FileSystem) buildEntries(id inode.ID, query string) ([]fuseutil.Dirent, error) {
	ent, ok := fs.inodes.Resolve(id)
	if !ok {
		return nil, fserr.ErrNotFound
	}

	switch ent.Kind {
	case inode.KindSystem:
		return fs.systemDirEntries(ent.SystemName)
	case inode.KindTag:
		return fs.tagDirEntries(ent.TagID)
	case inode.KindSearchView:
		return fs.searchDirEntries(query)
	case inode.KindFile:
		return fs.mirrorDirEntries(ent.AbsPath)
	}
	return nil, fserr.ErrNotSupported
}

func direntFile(offset int, id inode.ID, name string, isDir bool) fuseutil.Dirent {
	t := fuseutil.DT_File
	if isDir {
		t = fuseutil.DT_Directory
	}
	return fuseutil.Dirent{
		Offset: fuseops.DirOffset(offset),
		Inode:  fuseops.InodeID(id),
		Name:   name,
		Type:   t,
	}
}

func (fs *FileSystem) systemDirEntries(systemName string) ([]fuseutil.Dirent, error) {
	switch systemName {
	case "/":
		return []fuseutil.Dirent{
			direntFile(1, inode.SearchID, "search", true),
			direntFile(2, inode.TagsID, "tags", true),
			direntFile(3, inode.InboxID, "inbox", true),
			direntFile(4, inode.MirrorID, "mirror", true),
			direntFile(5, inode.MagicID, ".magic", true),
		}, nil

	case "tags":
		tags, err := fs.tags.ChildTags(0)
		if err != nil {
			return nil, err
		}
		entries := make([]fuseutil.Dirent, len(tags))
		for i, t := range tags {
			entries[i] = direntFile(i+1, fs.inodes.InodeForTag(t.TagID), t.Name, true)
		}
		return entries, nil

	case "inbox":
		return fs.statDirEntries(fs.archiver.InboxDir())

	case "mirror":
		entries := make([]fuseutil.Dirent, 0, len(fs.watchRoots))
		for i, root := range fs.watchRoots {
			rec, ok, err := fs.files.FileByPath(root)
			var fileID int64
			if err != nil {
				return nil, err
			}
			if !ok {
				fileID, err = fs.files.UpsertFile(root, time.Now(), 0, true)
				if err != nil {
					return nil, err
				}
			} else {
				fileID = rec.FileID
			}
			entries = append(entries, direntFile(i+1, fs.inodes.InodeForFile(fileID), filepath.Base(root), true))
		}
		return entries, nil

	case ".magic":
		return []fuseutil.Dirent{direntFile(1, inode.RefreshID, "refresh", false)}, nil
	}

	return nil, fserr.ErrNotFound
}

// tagDirEntries lists the children and files filed under tagID. It is
// the Lazy Reaper's read path: a file whose physical path has vanished
// since it was last indexed is purged from the repository right here,
// within this same call, rather than surfaced as a ghost entry.
func (fs *FileSystem) tagDirEntries(tagID int64) ([]fuseutil.Dirent, error) {
	children, err := fs.tags.ChildTags(tagID)
	if err != nil {
		return nil, err
	}
	files, err := fs.tags.FilesUnderTag(tagID)
	if err != nil {
		return nil, err
	}

	entries := make([]fuseutil.Dirent, 0, len(children)+len(files))
	offset := 1
	for _, t := range children {
		entries = append(entries, direntFile(offset, fs.inodes.InodeForTag(t.TagID), t.Name, true))
		offset++
	}
	for _, f := range files {
		rec, ok, err := fs.files.FileByID(f.FileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, statErr := os.Stat(rec.AbsPath); statErr != nil {
			if os.IsNotExist(statErr) {
				if err := fs.files.RemoveFile(f.FileID); err != nil {
					return nil, err
				}
				continue
			}
			return nil, statErr
		}
		entries = append(entries, direntFile(offset, fs.inodes.InodeForFile(f.FileID), f.DisplayName, false))
		offset++
	}
	return entries, nil
}

func (fs *FileSystem) searchDirEntries(query string) ([]fuseutil.Dirent, error) {
	set, fresh, wait := fs.inodes.WaitForQuery(query)
	if !fresh {
		fs.submitter.SubmitSearch(query)
		if wait != nil {
			timeout := fs.searchTimeout()
			select {
			case <-wait:
				set, _ = fs.inodes.LookupCachedResult(query)
			case <-time.After(timeout):
				set, _ = fs.inodes.LookupCachedResult(query)
			}
		}
	}
	if set == nil {
		return nil, nil
	}

	// set.Results may have been published before a surviving hit's file
	// was deleted out-of-band; re-stat here so this readdir never hands
	// back a ghost even if the cached result hasn't been invalidated
	// yet, per the Lazy Reaper invariant.
	entries := make([]fuseutil.Dirent, 0, len(set.Results))
	offset := 1
	for _, r := range set.Results {
		rec, ok, err := fs.files.FileByID(r.FileID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, statErr := os.Stat(rec.AbsPath); statErr != nil {
			if os.IsNotExist(statErr) {
				if err := fs.files.RemoveFile(r.FileID); err != nil {
					return nil, err
				}
				continue
			}
			return nil, statErr
		}
		entries = append(entries, direntFile(offset, fs.inodes.InodeForResult(query, r.FileID), r.DisplayName, false))
		offset++
	}
	return entries, nil
}

func (fs *FileSystem) mirrorDirEntries(absPath string) ([]fuseutil.Dirent, error) {
	return fs.statDirEntries(absPath)
}

// statDirEntries lists a real directory on disk, registering each
// child with the Repository on first sight so it gets a stable
// file_id/inode, per spec.md §4.1's mirror-directory contract.
func (fs *FileSystem) statDirEntries(dir string) ([]fuseutil.Dirent, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	entries := make([]fuseutil.Dirent, 0, len(children))
	for i, c := range children {
		childPath := filepath.Join(dir, c.Name())
		rec, ok, err := fs.files.FileByPath(childPath)
		var fileID int64
		if err != nil {
			return nil, err
		}
		if !ok {
			info, err := c.Info()
			if err != nil {
				continue
			}
			fileID, err = fs.files.UpsertFile(childPath, info.ModTime(), info.Size(), info.IsDir())
			if err != nil {
				return nil, err
			}
		} else {
			fileID = rec.FileID
		}
		entries = append(entries, direntFile(i+1, fs.inodes.InodeForFile(fileID), c.Name(), c.IsDir()))
	}
	return entries, nil
}

// searchTimeout returns the configured Smart Waiter timeout, defaulting
// to 2s per spec.md §9 when unset.
func (fs *FileSystem) searchTimeout() time.Duration {
	if fs.search.ReaddirTimeout > 0 {
		return fs.search.ReaddirTimeout
	}
	return defaultSearchTimeout
}
