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

package repository

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveDisplayName implements Smart Contextual Aliasing, spec.md
// §4.7: when tagging a file under tagID would collide with another
// file's basename already filed there, disambiguate by prefixing
// enough of the parent directory path to make the name unique, rather
// than a numeric suffix.
//
// baseName is the file's own basename (e.g. "report.pdf"); dirParts is
// its absolute directory split into path components, deepest last
// (e.g. ["home", "alice", "projects", "acme"]).
func (r *Repository) ResolveDisplayName(tagID int64, baseName string, dirParts []string) (string, error) {
	existing, err := r.FilesUnderTag(tagID)
	if err != nil {
		return "", fmt.Errorf("resolve display name under tag %d: %w", tagID, err)
	}

	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e.DisplayName] = true
	}

	if !taken[baseName] {
		return baseName, nil
	}

	// Grow the prefix one path component at a time until the composed
	// name no longer collides, joined with "__" so it reads cleanly in
	// a directory listing while staying distinguishable from a real
	// path separator.
	for depth := 1; depth <= len(dirParts); depth++ {
		prefixParts := dirParts[len(dirParts)-depth:]
		candidate := strings.Join(prefixParts, "__") + "__" + baseName
		if !taken[candidate] {
			return candidate, nil
		}
	}

	// Every available directory component has been exhausted and it
	// still collides (e.g. two hardlinks to the same inode tagged
	// independently); fall back to the full path, which is unique by
	// construction.
	full := strings.Join(dirParts, "__") + "__" + baseName
	return full, nil
}

// SplitPathForAlias breaks an absolute path into (baseName, dirParts)
// ready for ResolveDisplayName.
func SplitPathForAlias(absPath string) (baseName string, dirParts []string) {
	baseName = filepath.Base(absPath)
	dir := filepath.Dir(absPath)
	dir = strings.Trim(dir, string(filepath.Separator))
	if dir == "" || dir == "." {
		return baseName, nil
	}
	return baseName, strings.Split(dir, string(filepath.Separator))
}
