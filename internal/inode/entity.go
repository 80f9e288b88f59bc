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

// Package inode implements the Inode Store of spec.md §4.2: a
// deterministic, fast inode_id -> Entity map that routes persistent tag
// inodes, physical file inodes, and ephemeral search inodes with no
// ambiguity, per the ID's most-significant-bit tag.
package inode

// ID is the filesystem-visible inode number. It is deliberately decoupled
// from fuseops.InodeID (a uint64 newtype) so this package never imports the
// fuse transport; internal/fsface converts at the boundary.
type ID uint64

// PersistentFlag marks a tag-derived inode, per spec.md §3 "Inode numbering
// invariants": inode = tag_id | PERSISTENT_FLAG. It is the MSB of a 64-bit
// ID, leaving 63 bits for tag IDs — more than any tag graph will ever use.
const PersistentFlag ID = 1 << 63

// System inodes, hard-coded per spec.md §3.
const (
	RootID    ID = 1
	SearchID  ID = 2
	TagsID    ID = 3
	InboxID   ID = 4
	MirrorID  ID = 5
	MagicID   ID = 6
	RefreshID ID = 7 // /.magic/refresh control file
)

// Kind distinguishes the five entity shapes spec.md §4.2 names.
type Kind int

const (
	KindSystem Kind = iota
	KindTag
	KindFile
	KindSearchView
	KindSearchResult
)

// Entity is the value an inode resolves to. Exactly one of the fields
// below is meaningful, selected by Kind.
type Entity struct {
	Kind Kind

	// KindSystem
	SystemName string

	// KindTag
	TagID int64

	// KindFile
	FileID   int64
	AbsPath  string

	// KindSearchView
	Query string

	// KindSearchResult
	ResultQuery  string
	ResultFileID int64
}

// IsPersistentTag reports whether id was minted for a tag via the
// PersistentFlag routing rule.
func IsPersistentTag(id ID) bool {
	return id&PersistentFlag != 0
}

// TagInode derives the inode for a tag, per spec.md §3.
func TagInode(tagID int64) ID {
	return ID(tagID) | PersistentFlag
}

// TagIDFromInode extracts the tag_id encoded in a persistent-tag inode.
func TagIDFromInode(id ID) int64 {
	return int64(id &^ PersistentFlag)
}

// FileInode derives the inode for a physical file: its file_id directly,
// per spec.md §3 ("Physical files use their file_id as inode (fits in the
// low range)"). File IDs are assigned starting above the last hard-coded
// system inode so there is no collision with {RootID..RefreshID}.
func FileInode(fileID int64) ID {
	return ID(fileID)
}

// FirstFileID is the smallest file_id the Repository hands out, chosen to
// sit above every hard-coded system inode.
const FirstFileID int64 = 100
