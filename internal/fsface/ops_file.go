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
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/bryceygordon/MagicFS/internal/inode"
)

// CreateFile implements file creation, legal only under /inbox (a plain
// physical drop) and under a /tags/... directory (the Landing Zone
// Pattern of spec.md §4.7: creating a file there allocates it real
// storage via the Archiver and tags it with the directory it was
// created in).
func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parentEnt, ok := fs.inodes.Resolve(inode.ID(op.Parent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	var absPath string
	var tagID int64
	var filing bool

	switch {
	case parentEnt.Kind == inode.KindSystem && parentEnt.SystemName == "inbox":
		absPath = filepath.Join(fs.archiver.InboxDir(), op.Name)

	case parentEnt.Kind == inode.KindTag:
		path, err := fs.archiver.AllocatePath(op.Name)
		if err != nil {
			return fserr.ToErrno(err)
		}
		absPath = path
		tagID = parentEnt.TagID
		filing = true

	default:
		return fserr.ToErrno(fserr.ErrPermission)
	}

	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fserr.ToErrno(fserr.ErrExists)
		}
		return fserr.ToErrno(fserr.ErrInvalidArgument)
	}

	fileID, err := fs.files.UpsertFile(absPath, time.Now(), 0, false)
	if err != nil {
		f.Close()
		return fserr.ToErrno(err)
	}

	if filing {
		if err := fs.tags.AddFileTag(fileID, tagID, op.Name); err != nil {
			f.Close()
			return fserr.ToErrno(err)
		}
	}

	attrs, err := fs.attributesFor(fs.inodes.InodeForFile(fileID))
	if err != nil {
		f.Close()
		return fserr.ToErrno(err)
	}

	fh := &fileHandle{file: f, absPath: absPath}
	fs.mu.Lock()
	handle := fs.allocateHandle()
	fs.fileHandles[handle] = fh
	fs.mu.Unlock()

	op.Entry = fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(fs.inodes.InodeForFile(fileID)),
		Attributes: attrs,
	}
	op.Handle = handle
	return nil
}

// OpenFile opens the physical file backing a file or search-result
// inode. Search results and anything under a configured watch root
// (the /mirror passthrough) open read-only, per spec.md §4.1's
// read-only surfaces.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	ent, ok := fs.inodes.Resolve(inode.ID(op.Inode))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	if ent.Kind == inode.KindSystem && ent.SystemName == "refresh" {
		fh := &fileHandle{isRefresh: true}
		fs.mu.Lock()
		handle := fs.allocateHandle()
		fs.fileHandles[handle] = fh
		fs.mu.Unlock()
		op.Handle = handle
		return nil
	}

	var absPath string
	readOnly := false

	switch ent.Kind {
	case inode.KindFile:
		absPath = ent.AbsPath
		readOnly = fs.isMirrorPath(absPath)
	case inode.KindSearchResult:
		rec, ok, err := fs.files.FileByID(ent.ResultFileID)
		if err != nil {
			return fserr.ToErrno(err)
		}
		if !ok {
			return fserr.ToErrno(fserr.ErrNotFound)
		}
		absPath = rec.AbsPath
		readOnly = true
	default:
		return fserr.ToErrno(fserr.ErrNotSupported)
	}

	flag := os.O_RDONLY
	if !readOnly {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(absPath, flag, 0)
	if err != nil {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	fh := &fileHandle{file: f, absPath: absPath, readOnly: readOnly}
	fs.mu.Lock()
	handle := fs.allocateHandle()
	fs.fileHandles[handle] = fh
	fs.mu.Unlock()

	op.Handle = handle
	return nil
}

// isMirrorPath reports whether absPath sits under one of the
// configured watch roots, making it a read-only /mirror passthrough
// entry rather than something MagicFS owns (inbox drops, landing-zone
// files).
func (fs *FileSystem) isMirrorPath(absPath string) bool {
	for _, root := range fs.watchRoots {
		if absPath == root || strings.HasPrefix(absPath, root+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// ReadFile reads directly from the handle's open *os.File.
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fh, err := fs.lookupFileHandle(op.Handle)
	if err != nil {
		return fserr.ToErrno(err)
	}
	if fh.isRefresh {
		op.Data = nil
		return nil
	}

	buf := make([]byte, op.Size)
	n, err := fh.file.ReadAt(buf, op.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fserr.ToErrno(fserr.ErrInvalidArgument)
	}
	op.Data = buf[:n]
	return nil
}

// WriteFile writes to the handle's open *os.File and marks it dirty so
// FlushFile knows to resubmit it for indexing.
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fh, err := fs.lookupFileHandle(op.Handle)
	if err != nil {
		return fserr.ToErrno(err)
	}
	if fh.isRefresh {
		fs.submitter.SubmitRefresh()
		return nil
	}
	if fh.readOnly {
		return fserr.ToErrno(fserr.ErrPermission)
	}

	fh.mu.Lock()
	_, werr := fh.file.WriteAt(op.Data, op.Offset)
	if werr == nil {
		fh.dirty = true
	}
	fh.mu.Unlock()

	if werr != nil {
		return fserr.ToErrno(fserr.ErrInvalidArgument)
	}
	return nil
}

// SyncFile flushes the handle's buffered writes to the underlying
// device.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	fh, err := fs.lookupFileHandle(op.Handle)
	if err != nil {
		return fserr.ToErrno(err)
	}
	if fh.isRefresh {
		return nil
	}
	if serr := fh.file.Sync(); serr != nil {
		return fserr.ToErrno(fserr.ErrInvalidArgument)
	}
	return nil
}

// FlushFile resubmits a dirty file for (re-)indexing, per spec.md
// §4.1: close-on-write triggers the Indexer rather than indexing every
// individual WriteFile.
func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	fh, err := fs.lookupFileHandle(op.Handle)
	if err != nil {
		return fserr.ToErrno(err)
	}
	if fh.isRefresh {
		return nil
	}

	fh.mu.Lock()
	dirty := fh.dirty
	fh.dirty = false
	path := fh.absPath
	fh.mu.Unlock()

	if dirty {
		if info, statErr := os.Stat(path); statErr == nil {
			_, _ = fs.files.UpsertFile(path, info.ModTime(), info.Size(), false)
		}
		fs.submitter.SubmitIndex(path)
	}
	return nil
}

// ReleaseFileHandle closes the backing *os.File and drops the handle.
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()

	if ok && fh.file != nil {
		fh.file.Close()
	}
	return nil
}

func (fs *FileSystem) lookupFileHandle(handle fuseops.HandleID) (*fileHandle, error) {
	fs.mu.Lock()
	fh, ok := fs.fileHandles[handle]
	fs.mu.Unlock()
	if !ok {
		return nil, fserr.ErrNotFound
	}
	return fh, nil
}

// Unlink removes a name from a directory, per spec.md §4.7's distinct
// semantics per surface: inside /inbox it physically deletes the file;
// inside a /tags directory it only drops the tag edge (a soft delete —
// the physical file and its other tags survive).
func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parentEnt, ok := fs.inodes.Resolve(inode.ID(op.Parent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	switch {
	case parentEnt.Kind == inode.KindSystem && parentEnt.SystemName == "inbox":
		absPath := filepath.Join(fs.archiver.InboxDir(), op.Name)
		rec, ok, err := fs.files.FileByPath(absPath)
		if err != nil {
			return fserr.ToErrno(err)
		}
		if !ok {
			return fserr.ToErrno(fserr.ErrNotFound)
		}
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return fserr.ToErrno(fserr.ErrInvalidArgument)
		}
		if err := fs.files.RemoveFile(rec.FileID); err != nil {
			return fserr.ToErrno(err)
		}
		return nil

	case parentEnt.Kind == inode.KindTag:
		entries, err := fs.tags.FilesUnderTag(parentEnt.TagID)
		if err != nil {
			return fserr.ToErrno(err)
		}
		for _, e := range entries {
			if e.DisplayName == op.Name {
				return fserr.ToErrno(fs.tags.RemoveFileTag(e.FileID, parentEnt.TagID))
			}
		}
		return fserr.ToErrno(fserr.ErrNotFound)

	default:
		return fserr.ToErrno(fserr.ErrPermission)
	}
}

// Rename implements mv across MagicFS's virtual surfaces, per spec.md
// §4.7: renaming within /tags reparents or relabels a tag or a file's
// tag edge; moving a file from /inbox into a /tags directory files it
// there (AddFileTag) without physically relocating it, since tags are a
// graph over physical files, not real directories. Renames with any
// other source (a mirror path included) return ENOSYS.
func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	oldParent, ok := fs.inodes.Resolve(inode.ID(op.OldParent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}
	newParent, ok := fs.inodes.Resolve(inode.ID(op.NewParent))
	if !ok {
		return fserr.ToErrno(fserr.ErrNotFound)
	}

	oldParentTagID, oldIsTagDir := tagDirID(oldParent)
	newParentTagID, newIsTagDir := tagDirID(newParent)

	if oldIsTagDir {
		if childTagID, ok, err := fs.tags.LookupTagChild(oldParentTagID, op.OldName); err != nil {
			return fserr.ToErrno(err)
		} else if ok {
			if !newIsTagDir {
				return fserr.ToErrno(fserr.ErrNotSupported)
			}
			if oldParentTagID != newParentTagID {
				if err := fs.tags.MoveTag(childTagID, newParentTagID); err != nil {
					return fserr.ToErrno(err)
				}
			}
			if op.OldName != op.NewName {
				if err := fs.tags.RenameTag(childTagID, op.NewName); err != nil {
					return fserr.ToErrno(err)
				}
			}
			return nil
		}

		entries, err := fs.tags.FilesUnderTag(oldParentTagID)
		if err != nil {
			return fserr.ToErrno(err)
		}
		var fileID int64
		found := false
		for _, e := range entries {
			if e.DisplayName == op.OldName {
				fileID = e.FileID
				found = true
				break
			}
		}
		if !found {
			return fserr.ToErrno(fserr.ErrNotFound)
		}

		if !newIsTagDir {
			return fserr.ToErrno(fserr.ErrNotSupported)
		}
		if err := fs.tags.RemoveFileTag(fileID, oldParentTagID); err != nil {
			return fserr.ToErrno(err)
		}
		if err := fs.tags.AddFileTag(fileID, newParentTagID, op.NewName); err != nil {
			return fserr.ToErrno(err)
		}
		return nil
	}

	if oldParent.Kind == inode.KindSystem && oldParent.SystemName == "inbox" {
		if newIsTagDir {
			absPath := filepath.Join(fs.archiver.InboxDir(), op.OldName)
			rec, ok, err := fs.files.FileByPath(absPath)
			if err != nil {
				return fserr.ToErrno(err)
			}
			if !ok {
				return fserr.ToErrno(fserr.ErrNotFound)
			}
			return fserr.ToErrno(fs.tags.AddFileTag(rec.FileID, newParentTagID, op.NewName))
		}

		if newParent.Kind == inode.KindSystem && newParent.SystemName == "inbox" {
			oldPath := filepath.Join(fs.archiver.InboxDir(), op.OldName)
			newPath := filepath.Join(fs.archiver.InboxDir(), op.NewName)
			rec, ok, err := fs.files.FileByPath(oldPath)
			if err != nil {
				return fserr.ToErrno(err)
			}
			if !ok {
				return fserr.ToErrno(fserr.ErrNotFound)
			}
			if err := os.Rename(oldPath, newPath); err != nil {
				return fserr.ToErrno(fserr.ErrInvalidArgument)
			}
			return fserr.ToErrno(fs.files.RenameFile(rec.FileID, newPath))
		}
	}

	return fserr.ToErrno(fserr.ErrNotSupported)
}

// tagDirID reports whether ent names a directory under the /tags
// subtree (the root itself or a specific tag) and, if so, the tag_id
// to treat as its parent context (0 for the /tags root).
func tagDirID(ent inode.Entity) (int64, bool) {
	switch {
	case ent.Kind == inode.KindSystem && ent.SystemName == "tags":
		return 0, true
	case ent.Kind == inode.KindTag:
		return ent.TagID, true
	}
	return 0, false
}
