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

// Package fsface implements the Filesystem Face of spec.md §4.1: the
// fuseutil.FileSystem the kernel talks to. It never blocks on disk I/O
// or embeddings; anything that might is handed off to the Orchestrator
// (via Submitter) and surfaced later by the Inode Store.
//
// LOCK ORDERING. fs.mu guards the handle tables below and is held only
// long enough to look an entry up or install one; a handle's own mutex
// is acquired only after fs.mu is released. This is the reverse of the
// order the legacy comment in the teacher's fs/fs.go states for its
// inode locks, because MagicFS's "inodes" are either stateless (tags,
// files resolve through the Repository on every call) or ephemeral
// (search views resolve through inode.Store, which has its own internal
// lock): there is no per-inode lock to acquire before fs.mu here, only
// per-handle locks acquired after it.
package fsface

import (
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/bryceygordon/MagicFS/internal/inode"
	"github.com/bryceygordon/MagicFS/internal/repository"
)

// defaultSearchTimeout is the Smart Waiter fallback when
// cfg.SearchConfig.ReaddirTimeout is left unset (zero value).
const defaultSearchTimeout = 2 * time.Second

// TagStore is the slice of *repository.Repository the Face uses to
// translate mkdir/rmdir/rename/unlink inside /tags into tag-graph edits,
// per spec.md §4.7.
type TagStore interface {
	LookupTagChild(parentTagID int64, name string) (int64, bool, error)
	CreateTag(parentTagID int64, name string, isSystem bool) (int64, error)
	TagByID(tagID int64) (repository.Tag, bool, error)
	ChildTags(parentTagID int64) ([]repository.Tag, error)
	MoveTag(srcTagID, newParentTagID int64) error
	RenameTag(tagID int64, newName string) error
	DeleteTag(tagID int64) error
	AddFileTag(fileID, tagID int64, displayName string) error
	RemoveFileTag(fileID, tagID int64) error
	FilesUnderTag(tagID int64) ([]repository.FileTagEntry, error)
	ResolveDisplayName(tagID int64, baseName string, dirParts []string) (string, error)
}

// FileStore is the slice of *repository.Repository the Face uses to
// resolve and register physical files.
type FileStore interface {
	FileByID(fileID int64) (repository.FileRecord, bool, error)
	FileByPath(absPath string) (repository.FileRecord, bool, error)
	UpsertFile(absPath string, mtime time.Time, size int64, isDir bool) (int64, error)
	RemoveFile(fileID int64) error
	RenameFile(fileID int64, newAbsPath string) error
}

// Archiver is the Landing Zone allocator: CreateFile under a tag
// directory asks it for a fresh physical path to create, per spec.md
// §4.7's filing-by-creation contract.
type Archiver interface {
	AllocatePath(suggestedName string) (string, error)
	InboxDir() string
}

// Submitter is the Face's one-way hook into the Orchestrator: queueing
// work never blocks the calling fuse goroutine.
type Submitter interface {
	SubmitIndex(absPath string)
	SubmitSearch(query string)
	SubmitRefresh()
}

// InodeStore is the slice of *inode.Store the Face needs.
type InodeStore interface {
	Resolve(id inode.ID) (inode.Entity, bool)
	InodeForTag(tagID int64) inode.ID
	InodeForFile(fileID int64) inode.ID
	InodeForQuery(query string) inode.ID
	InodeForResult(query string, fileID int64) inode.ID
	WaitForQuery(query string) (set *inode.SearchResultSet, fresh bool, wait <-chan struct{})
	LookupCachedResult(query string) (*inode.SearchResultSet, bool)
	SetRefreshSignal()
}

// FileSystem implements fuseutil.FileSystem over MagicFS's semantic
// view: tags, search results, the inbox, and a read-only mirror of the
// watched roots, per spec.md §4.1.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	cfg        cfg.FuseConfig
	search     cfg.SearchConfig
	watchRoots []string
	tags       TagStore
	files      FileStore
	archiver   Archiver
	submitter  Submitter
	inodes     InodeStore

	uid uint32
	gid uint32

	// startTime is the mtime/atime/ctime reported for every virtual
	// directory (/tags, /search/..., /.magic): fixed at construction so
	// it never changes for the life of the process, per spec.md §4.1.
	startTime time.Time

	mu          sync.Mutex
	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle  fuseops.HandleID
}

// New constructs the Filesystem Face.
func New(fc cfg.FuseConfig, sc cfg.SearchConfig, watchRoots []string, tags TagStore, files FileStore, archiver Archiver, submitter Submitter, inodes InodeStore) *FileSystem {
	uid, gid := resolveOwner(fc)
	return &FileSystem{
		cfg:         fc,
		search:      sc,
		watchRoots:  watchRoots,
		tags:        tags,
		files:       files,
		archiver:    archiver,
		submitter:   submitter,
		inodes:      inodes,
		uid:         uid,
		gid:         gid,
		startTime:   time.Now(),
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
	}
}

// resolveOwner picks the uid/gid MagicFS masquerades as, per
// SPEC_FULL.md's elevated-mount handling: an explicit override wins,
// otherwise the daemon's own real uid/gid.
func resolveOwner(fc cfg.FuseConfig) (uid, gid uint32) {
	uid = uint32(os.Getuid())
	gid = uint32(os.Getgid())
	if fc.Uid >= 0 {
		uid = uint32(fc.Uid)
	}
	if fc.Gid >= 0 {
		gid = uint32(fc.Gid)
	}
	return
}

func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

// LookUpInode resolves one path component under a parent directory
// inode, per spec.md §4.1's lookup contract.
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	entry, err := fs.resolveChild(op.Parent, op.Name)
	if err != nil {
		return fserr.ToErrno(err)
	}
	op.Entry = entry
	return nil
}

// GetInodeAttributes refreshes the attributes for a previously-resolved
// inode.
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	attrs, err := fs.attributesFor(inode.ID(op.Inode))
	if err != nil {
		return fserr.ToErrno(err)
	}
	op.Attributes = attrs
	return nil
}

// SetInodeAttributes supports only size changes (truncate), matching
// the teacher's narrow support surface in fs/fs.go's SetInodeAttributes
// (it too only honors a size change, rejecting mode/atime/mtime edits).
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	if op.Mode != nil || op.Atime != nil || op.Mtime != nil {
		return fserr.ToErrno(fserr.ErrNotSupported)
	}

	ent, ok := fs.inodes.Resolve(inode.ID(op.Inode))
	if !ok || ent.Kind != inode.KindFile {
		return fserr.ToErrno(fserr.ErrNotSupported)
	}

	if op.Size != nil {
		if err := os.Truncate(ent.AbsPath, int64(*op.Size)); err != nil {
			return fserr.ToErrno(fserr.ErrInvalidArgument)
		}
		fs.submitter.SubmitIndex(ent.AbsPath)
	}

	attrs, err := fs.attributesFor(inode.ID(op.Inode))
	if err != nil {
		return fserr.ToErrno(err)
	}
	op.Attributes = attrs
	return nil
}

// ForgetInode is a no-op: MagicFS mints inodes deterministically from
// tag IDs, file IDs, and query hashes rather than maintaining a
// reference-counted table, so there is nothing to release.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FileSystem) allocateHandle() fuseops.HandleID {
	fs.nextHandle++
	return fs.nextHandle
}
