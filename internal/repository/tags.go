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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryceygordon/MagicFS/internal/fserr"
)

// SystemTagInbox and SystemTagTrash are the well-known root-level tags
// bootstrapped on first run, per spec.md §4.7.
const (
	SystemTagInbox = "inbox"
	SystemTagTrash = "@trash"
)

// Tag mirrors one row of the tags table.
type Tag struct {
	TagID       int64
	ParentTagID sql.NullInt64
	Name        string
	IsSystem    bool
}

// EnsureSystemTags creates the root-level system tags if absent. Trash
// is only created when enabled, per SPEC_FULL.md's resolution of the
// open question on whether the Trash concept ships at all.
func (r *Repository) EnsureSystemTags(trashEnabled bool, trashName string) error {
	if _, _, err := r.ensureRootTag(SystemTagInbox, true); err != nil {
		return err
	}
	if trashEnabled {
		if _, _, err := r.ensureRootTag(trashName, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ensureRootTag(name string, isSystem bool) (int64, bool, error) {
	tagID, ok, err := r.LookupTagChild(0, name)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return tagID, false, nil
	}
	id, err := r.CreateTag(0, name, isSystem)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// LookupTagChild implements internal/inode.FileResolver: find a tag
// named name directly under parentTagID (0 meaning the tags root).
func (r *Repository) LookupTagChild(parentTagID int64, name string) (int64, bool, error) {
	var tagID int64
	var err error
	if parentTagID == 0 {
		err = r.db.QueryRow(
			`SELECT tag_id FROM tags WHERE parent_tag_id IS NULL AND name = ?`, name,
		).Scan(&tagID)
	} else {
		err = r.db.QueryRow(
			`SELECT tag_id FROM tags WHERE parent_tag_id = ? AND name = ?`, parentTagID, name,
		).Scan(&tagID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup tag child %q under %d: %w", name, parentTagID, err)
	}
	return tagID, true, nil
}

// CreateTag creates a new tag node under parentTagID (0 for root).
func (r *Repository) CreateTag(parentTagID int64, name string, isSystem bool) (int64, error) {
	var res sql.Result
	var err error
	if parentTagID == 0 {
		res, err = r.db.Exec(
			`INSERT INTO tags (parent_tag_id, name, is_system) VALUES (NULL, ?, ?)`,
			name, boolToInt(isSystem),
		)
	} else {
		res, err = r.db.Exec(
			`INSERT INTO tags (parent_tag_id, name, is_system) VALUES (?, ?, ?)`,
			parentTagID, name, boolToInt(isSystem),
		)
	}
	if err != nil {
		return 0, fmt.Errorf("create tag %q under %d: %w", name, parentTagID, err)
	}
	return res.LastInsertId()
}

// TagByID fetches a tag's row.
func (r *Repository) TagByID(tagID int64) (Tag, bool, error) {
	var t Tag
	var isSystem int
	err := r.db.QueryRow(
		`SELECT tag_id, parent_tag_id, name, is_system FROM tags WHERE tag_id = ?`, tagID,
	).Scan(&t.TagID, &t.ParentTagID, &t.Name, &isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, false, nil
	}
	if err != nil {
		return Tag{}, false, fmt.Errorf("lookup tag %d: %w", tagID, err)
	}
	t.IsSystem = isSystem != 0
	return t, true, nil
}

// ChildTags lists every tag directly under parentTagID (0 for root).
func (r *Repository) ChildTags(parentTagID int64) ([]Tag, error) {
	var rows *sql.Rows
	var err error
	if parentTagID == 0 {
		rows, err = r.db.Query(`SELECT tag_id, parent_tag_id, name, is_system FROM tags WHERE parent_tag_id IS NULL ORDER BY name`)
	} else {
		rows, err = r.db.Query(`SELECT tag_id, parent_tag_id, name, is_system FROM tags WHERE parent_tag_id = ? ORDER BY name`, parentTagID)
	}
	if err != nil {
		return nil, fmt.Errorf("list child tags of %d: %w", parentTagID, err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		var isSystem int
		if err := rows.Scan(&t.TagID, &t.ParentTagID, &t.Name, &isSystem); err != nil {
			return nil, fmt.Errorf("scan child tag of %d: %w", parentTagID, err)
		}
		t.IsSystem = isSystem != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// MoveTag reparents srcTagID to newParentTagID, rejecting moves that
// would create a cycle (srcTagID is an ancestor of newParentTagID),
// per spec.md §4.7's Tag Graph Semantics invariant that the graph stays
// acyclic.
func (r *Repository) MoveTag(srcTagID, newParentTagID int64) error {
	if srcTagID == newParentTagID {
		return fmt.Errorf("move tag %d onto itself: %w", srcTagID, fserr.ErrInvalidArgument)
	}

	isAncestor, err := r.tagIsAncestor(srcTagID, newParentTagID)
	if err != nil {
		return err
	}
	if isAncestor {
		return fmt.Errorf("move tag %d under its own descendant %d: %w", srcTagID, newParentTagID, fserr.ErrInvalidArgument)
	}

	_, err = r.db.Exec(`UPDATE tags SET parent_tag_id = ? WHERE tag_id = ?`, newParentTagID, srcTagID)
	if err != nil {
		return fmt.Errorf("move tag %d under %d: %w", srcTagID, newParentTagID, err)
	}
	return nil
}

// tagIsAncestor walks up from candidate's parent chain looking for
// ancestorID, bounded by the total tag count to tolerate (rather than
// infinite-loop on) any pre-existing corruption.
func (r *Repository) tagIsAncestor(ancestorID, candidate int64) (bool, error) {
	current := candidate
	for i := 0; i < 100000; i++ {
		t, ok, err := r.TagByID(current)
		if err != nil {
			return false, err
		}
		if !ok || !t.ParentTagID.Valid {
			return false, nil
		}
		if t.ParentTagID.Int64 == ancestorID {
			return true, nil
		}
		current = t.ParentTagID.Int64
	}
	return false, fmt.Errorf("tag ancestry walk from %d exceeded bound", candidate)
}

// RenameTag changes a tag's own name, leaving its edges and children
// untouched.
func (r *Repository) RenameTag(tagID int64, newName string) error {
	_, err := r.db.Exec(`UPDATE tags SET name = ? WHERE tag_id = ?`, newName, tagID)
	if err != nil {
		return fmt.Errorf("rename tag %d: %w", tagID, err)
	}
	return nil
}

// DeleteTag removes a tag node. Callers must ensure it has no children
// and no file edges before calling (mirroring rmdir semantics of
// spec.md §4.1: "RmDir on a tag directory fails with ENOTEMPTY unless
// it is empty of both child tags and tagged files").
func (r *Repository) DeleteTag(tagID int64) error {
	children, err := r.ChildTags(tagID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("delete tag %d: %w", tagID, fserr.ErrNotEmpty)
	}

	var fileCount int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM file_tags WHERE tag_id = ?`, tagID).Scan(&fileCount); err != nil {
		return fmt.Errorf("count files under tag %d: %w", tagID, err)
	}
	if fileCount > 0 {
		return fmt.Errorf("delete tag %d: %w", tagID, fserr.ErrNotEmpty)
	}

	res, err := r.db.Exec(`DELETE FROM tags WHERE tag_id = ?`, tagID)
	if err != nil {
		return fmt.Errorf("delete tag %d: %w", tagID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tag %d: %w", tagID, err)
	}
	if n == 0 {
		return fmt.Errorf("delete tag %d: %w", tagID, fserr.ErrNotFound)
	}
	return nil
}

// AddFileTag files a file under a tag with a display name (post-alias
// resolution), per spec.md §4.7.
func (r *Repository) AddFileTag(fileID, tagID int64, displayName string) error {
	_, err := r.db.Exec(`
		INSERT INTO file_tags (file_id, tag_id, display_name, added_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id, tag_id) DO UPDATE SET display_name = excluded.display_name
	`, fileID, tagID, displayName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("tag file %d with tag %d: %w", fileID, tagID, err)
	}
	return nil
}

// RemoveFileTag removes one file-tag edge (untag, not delete).
func (r *Repository) RemoveFileTag(fileID, tagID int64) error {
	res, err := r.db.Exec(`DELETE FROM file_tags WHERE file_id = ? AND tag_id = ?`, fileID, tagID)
	if err != nil {
		return fmt.Errorf("untag file %d from tag %d: %w", fileID, tagID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("untag file %d from tag %d: %w", fileID, tagID, fserr.ErrNotFound)
	}
	return nil
}

// FileTagEntry is one row of a tag directory's listing.
type FileTagEntry struct {
	FileID      int64
	DisplayName string
}

// FilesUnderTag lists every file directly tagged with tagID, in the
// display names already resolved by Smart Contextual Aliasing at
// tagging time.
func (r *Repository) FilesUnderTag(tagID int64) ([]FileTagEntry, error) {
	rows, err := r.db.Query(
		`SELECT file_id, display_name FROM file_tags WHERE tag_id = ? ORDER BY display_name`, tagID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files under tag %d: %w", tagID, err)
	}
	defer rows.Close()

	var out []FileTagEntry
	for rows.Next() {
		var e FileTagEntry
		if err := rows.Scan(&e.FileID, &e.DisplayName); err != nil {
			return nil, fmt.Errorf("scan file under tag %d: %w", tagID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TagsForFile lists every tag a file currently carries, used by the
// Indexer to compose the "Tags: ..." line of the embedding payload
// (spec.md §4.3's context-decoration step).
func (r *Repository) TagsForFile(fileID int64) ([]Tag, error) {
	rows, err := r.db.Query(`
		SELECT t.tag_id, t.parent_tag_id, t.name, t.is_system
		FROM tags t
		JOIN file_tags ft ON ft.tag_id = t.tag_id
		WHERE ft.file_id = ?
		ORDER BY t.name
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list tags for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		var isSystem int
		if err := rows.Scan(&t.TagID, &t.ParentTagID, &t.Name, &isSystem); err != nil {
			return nil, fmt.Errorf("scan tag for file %d: %w", fileID, err)
		}
		t.IsSystem = isSystem != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
