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

// Package archive implements the Landing Zone Pattern of spec.md §5/§6:
// a create under a tag directory or the inbox is backed by a real file
// on disk inside the daemon's own archive tree, so the virtual
// namespace can offer writable directories without pretending to be a
// general-purpose filesystem itself.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Archive allocates physical paths for the Landing Zone and mirrors
// the inbox directory, implementing internal/fsface.Archiver.
type Archive struct {
	archiveDir string
	inboxDir   string
}

// New creates (if missing) the archive and inbox directories rooted at
// dataDir (typically ${XDG_DATA_HOME}/magicfs, per spec.md §6) and
// returns an Archive over them.
func New(dataDir string) (*Archive, error) {
	archiveDir := filepath.Join(dataDir, "archive")
	inboxDir := filepath.Join(dataDir, "inbox")

	for _, dir := range []string{archiveDir, inboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return &Archive{archiveDir: archiveDir, inboxDir: inboxDir}, nil
}

// AllocatePath mints a fresh, collision-free physical path under the
// archive directory for a file the user is about to create under a
// tag directory. The suggested name (the leaf the user typed) is kept
// as a suffix purely for human readability when browsing the archive
// directly; uniqueness comes entirely from the uuid prefix, since two
// tags may receive files with the same leaf name concurrently.
func (a *Archive) AllocatePath(suggestedName string) (string, error) {
	suggestedName = filepath.Base(suggestedName)
	if suggestedName == "" || suggestedName == "." || suggestedName == string(filepath.Separator) {
		suggestedName = "file"
	}
	leaf := fmt.Sprintf("%s-%s", uuid.NewString(), suggestedName)
	return filepath.Join(a.archiveDir, leaf), nil
}

// InboxDir returns the inbox's physical mirror directory, where
// CreateFile under the virtual /inbox writes its bytes directly (no
// uuid indirection: the inbox IS the physical directory, unlike a tag
// directory which is a view onto the archive).
func (a *Archive) InboxDir() string {
	return a.inboxDir
}

// ArchiveDir returns the archive directory, for components (e.g. the
// Landing Zone move on Inbox -> Tag rename) that need the raw path
// rather than just a fresh allocation.
func (a *Archive) ArchiveDir() string {
	return a.archiveDir
}
