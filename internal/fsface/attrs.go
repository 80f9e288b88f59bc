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

	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

const (
	dirMode  = os.ModeDir | 0555
	fileMode = os.FileMode(0644)
)

// resolveChild implements the lookup contract of spec.md §4.1: given a
// parent inode and a path component, return the ChildInodeEntry for it
// (minting a fresh ephemeral inode for a new /search/<query> view without
// scheduling any work — the Ephemeral Promise).
func (fs *FileSystem) resolveChild(parent fuseops.InodeID, name string) (fuseops.ChildInodeEntry, error) {
	parentEnt, ok := fs.inodes.Resolve(inode.ID(parent))
	if !ok {
		return fuseops.ChildInodeEntry{}, fserr.ErrNotFound
	}

	var childID inode.ID

	switch parentEnt.Kind {
	case inode.KindSystem:
		id, err := fs.resolveRootChild(parentEnt.SystemName, name)
		if err != nil {
			return fuseops.ChildInodeEntry{}, err
		}
		childID = id

	case inode.KindTag:
		id, err := fs.resolveTagChild(parentEnt.TagID, name)
		if err != nil {
			return fuseops.ChildInodeEntry{}, err
		}
		childID = id

	case inode.KindSearchView:
		id, err := fs.resolveSearchChild(parentEnt.Query, name)
		if err != nil {
			return fuseops.ChildInodeEntry{}, err
		}
		childID = id

	case inode.KindFile:
		// Only mirror-directory passthrough entries have children.
		id, err := fs.resolveMirrorChild(parentEnt.AbsPath, name)
		if err != nil {
			return fuseops.ChildInodeEntry{}, err
		}
		childID = id

	default:
		return fuseops.ChildInodeEntry{}, fserr.ErrNotFound
	}

	attrs, err := fs.attributesFor(childID)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}

	return fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(childID),
		Attributes: attrs,
	}, nil
}

func (fs *FileSystem) resolveRootChild(systemName, name string) (inode.ID, error) {
	switch systemName {
	case "/":
		switch name {
		case "search":
			return inode.SearchID, nil
		case "tags":
			return inode.TagsID, nil
		case "inbox":
			return inode.InboxID, nil
		case "mirror":
			return inode.MirrorID, nil
		case ".magic":
			return inode.MagicID, nil
		}
		return 0, fserr.ErrNotFound

	case "tags":
		tagID, ok, err := fs.tags.LookupTagChild(0, name)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fserr.ErrNotFound
		}
		return fs.inodes.InodeForTag(tagID), nil

	case "inbox":
		rec, ok, err := fs.files.FileByPath(filepath.Join(fs.archiver.InboxDir(), name))
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fserr.ErrNotFound
		}
		return fs.inodes.InodeForFile(rec.FileID), nil

	case "search":
		return fs.inodes.InodeForQuery(name), nil

	case "mirror":
		for _, root := range fs.watchRoots {
			if filepath.Base(root) == name {
				rec, ok, err := fs.files.FileByPath(root)
				if err != nil {
					return 0, err
				}
				if !ok {
					id, err := fs.files.UpsertFile(root, time.Now(), 0, true)
					if err != nil {
						return 0, err
					}
					return fs.inodes.InodeForFile(id), nil
				}
				return fs.inodes.InodeForFile(rec.FileID), nil
			}
		}
		return 0, fserr.ErrNotFound

	case ".magic":
		if name == "refresh" {
			return inode.RefreshID, nil
		}
		return 0, fserr.ErrNotFound
	}

	return 0, fserr.ErrNotFound
}

func (fs *FileSystem) resolveTagChild(tagID int64, name string) (inode.ID, error) {
	if childTagID, ok, err := fs.tags.LookupTagChild(tagID, name); err != nil {
		return 0, err
	} else if ok {
		return fs.inodes.InodeForTag(childTagID), nil
	}

	entries, err := fs.tags.FilesUnderTag(tagID)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.DisplayName == name {
			return fs.inodes.InodeForFile(e.FileID), nil
		}
	}
	return 0, fserr.ErrNotFound
}

// resolveSearchChild mints (or re-mints) the ephemeral inode for one
// result under /search/<query>/, per spec.md §4.5.
func (fs *FileSystem) resolveSearchChild(query, name string) (inode.ID, error) {
	set, ok := fs.inodes.LookupCachedResult(query)
	if !ok {
		return 0, fserr.ErrNotFound
	}
	for _, r := range set.Results {
		if r.DisplayName == name {
			return fs.inodes.InodeForResult(query, r.FileID), nil
		}
	}
	return 0, fserr.ErrNotFound
}

func (fs *FileSystem) resolveMirrorChild(parentAbsPath, name string) (inode.ID, error) {
	childPath := filepath.Join(parentAbsPath, name)
	info, err := os.Stat(childPath)
	if os.IsNotExist(err) {
		return 0, fserr.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("stat mirror child %s: %w", childPath, err)
	}

	rec, ok, err := fs.files.FileByPath(childPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err := fs.files.UpsertFile(childPath, info.ModTime(), info.Size(), info.IsDir())
		if err != nil {
			return 0, err
		}
		return fs.inodes.InodeForFile(id), nil
	}
	return fs.inodes.InodeForFile(rec.FileID), nil
}

// attributesFor builds the InodeAttributes for any resolvable inode,
// per spec.md §4.1's getattr contract.
func (fs *FileSystem) attributesFor(id inode.ID) (fuseops.InodeAttributes, error) {
	ent, ok := fs.inodes.Resolve(id)
	if !ok {
		return fuseops.InodeAttributes{}, fserr.ErrNotFound
	}

	// Virtual directories (/tags, /search/..., /.magic) report the
	// daemon's start time rather than time.Now(), per spec.md §4.1: a
	// changing mtime on a directory with nothing on disk behind it
	// defeats client-side directory-cache reuse, sending every ls into
	// a re-scan loop.
	base := fuseops.InodeAttributes{
		Nlink: 1,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Atime: fs.startTime,
		Mtime: fs.startTime,
		Ctime: fs.startTime,
	}

	switch ent.Kind {
	case inode.KindSystem:
		if ent.SystemName == "refresh" {
			base.Mode = 0200
			return base, nil
		}
		base.Mode = dirMode
		return base, nil

	case inode.KindTag:
		base.Mode = dirMode
		return base, nil

	case inode.KindSearchView:
		base.Mode = dirMode
		return base, nil

	case inode.KindSearchResult:
		rec, ok, err := fs.files.FileByID(ent.ResultFileID)
		if err != nil {
			return fuseops.InodeAttributes{}, err
		}
		if !ok {
			return fuseops.InodeAttributes{}, fserr.ErrNotFound
		}
		return fs.fileAttributes(rec)

	case inode.KindFile:
		rec, ok, err := fs.files.FileByID(ent.FileID)
		if err != nil {
			return fuseops.InodeAttributes{}, err
		}
		if !ok {
			return fuseops.InodeAttributes{}, fserr.ErrNotFound
		}
		return fs.fileAttributes(rec)
	}

	return fuseops.InodeAttributes{}, fserr.ErrNotFound
}

// fileAttributes stats the physical file backing rec to report a live
// size and mtime, falling back to the Repository's last-known values if
// the physical file has since vanished. tagDirEntries/searchDirEntries
// purge a ghost the moment a readdir walks past it, but a kernel can
// still call GetAttr directly on an inode it resolved moments earlier
// (dentry revalidation, a second fd on an already-open file); this
// fallback keeps that call from erroring out from under the caller
// instead of surfacing the deletion as ENOENT.
func (fs *FileSystem) fileAttributes(rec repository.FileRecord) (fuseops.InodeAttributes, error) {
	now := time.Now()
	attrs := fuseops.InodeAttributes{
		Nlink: 1,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}

	info, err := os.Stat(rec.AbsPath)
	switch {
	case err == nil:
		attrs.Size = uint64(info.Size())
		attrs.Mtime = info.ModTime()
		attrs.Ctime = info.ModTime()
		if info.IsDir() || rec.IsDir {
			attrs.Mode = dirMode
		} else {
			attrs.Mode = fileMode
		}
	case os.IsNotExist(err):
		attrs.Size = uint64(rec.Size)
		attrs.Mtime = rec.MTime
		attrs.Ctime = rec.MTime
		if rec.IsDir {
			attrs.Mode = dirMode
		} else {
			attrs.Mode = fileMode
		}
	default:
		return fuseops.InodeAttributes{}, fmt.Errorf("stat %s: %w", rec.AbsPath, err)
	}

	return attrs, nil
}
