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

// FileRecord mirrors one row of the files table.
type FileRecord struct {
	FileID  int64
	AbsPath string
	MTime   time.Time
	Size    int64
	IsDir   bool
}

// UpsertFile inserts a new file row or, if abs_path already exists,
// updates its mtime/size/is_dir, returning the stable file_id either
// way. This is the entry point the Watcher and Indexer use to mint or
// refresh the identity backing a physical-file inode (spec.md §4.2's
// "file_id, assigned once, never reused").
func (r *Repository) UpsertFile(absPath string, mtime time.Time, size int64, isDir bool) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO files (abs_path, mtime, size, is_dir) VALUES (?, ?, ?, ?)
		ON CONFLICT(abs_path) DO UPDATE SET mtime = excluded.mtime, size = excluded.size, is_dir = excluded.is_dir
	`, absPath, mtime.Unix(), size, boolToInt(isDir))
	if err != nil {
		return 0, fmt.Errorf("upsert file %s: %w", absPath, err)
	}

	// SQLite's ON CONFLICT DO UPDATE still reports the pre-existing
	// rowid via LastInsertId only on some driver versions; look the
	// row up explicitly rather than trust it.
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		if rec, ok, lookupErr := r.FileByPath(absPath); lookupErr == nil && ok && rec.FileID == id {
			return id, nil
		}
	}

	rec, ok, err := r.FileByPath(absPath)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("upsert file %s: row missing after insert", absPath)
	}
	return rec.FileID, nil
}

// FileByPath looks up a file's record by its absolute path.
func (r *Repository) FileByPath(absPath string) (FileRecord, bool, error) {
	var rec FileRecord
	var mtime int64
	var isDir int
	err := r.db.QueryRow(
		`SELECT file_id, abs_path, mtime, size, is_dir FROM files WHERE abs_path = ?`, absPath,
	).Scan(&rec.FileID, &rec.AbsPath, &mtime, &rec.Size, &isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("lookup file %s: %w", absPath, err)
	}
	rec.MTime = time.Unix(mtime, 0)
	rec.IsDir = isDir != 0
	return rec, true, nil
}

// FileByID looks up a file's record by its file_id.
func (r *Repository) FileByID(fileID int64) (FileRecord, bool, error) {
	var rec FileRecord
	var mtime int64
	var isDir int
	err := r.db.QueryRow(
		`SELECT file_id, abs_path, mtime, size, is_dir FROM files WHERE file_id = ?`, fileID,
	).Scan(&rec.FileID, &rec.AbsPath, &mtime, &rec.Size, &isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRecord{}, false, nil
	}
	if err != nil {
		return FileRecord{}, false, fmt.Errorf("lookup file %d: %w", fileID, err)
	}
	rec.MTime = time.Unix(mtime, 0)
	rec.IsDir = isDir != 0
	return rec, true, nil
}

// FileAbsPath implements internal/inode.FileResolver.
func (r *Repository) FileAbsPath(fileID int64) (string, bool, error) {
	rec, ok, err := r.FileByID(fileID)
	if err != nil || !ok {
		return "", ok, err
	}
	return rec.AbsPath, true, nil
}

// NeedsReindex reports whether a file on disk has drifted from its
// recorded mtime/size beyond the configured tolerance, per spec.md
// §4.3's metadata-probe shortcut ("if mtime and size both match the
// last indexed record within tolerance, skip re-reading the file").
func (r *Repository) NeedsReindex(absPath string, mtime time.Time, size int64, tolerance time.Duration) (bool, error) {
	rec, ok, err := r.FileByPath(absPath)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if rec.Size != size {
		return true, nil
	}
	delta := rec.MTime.Sub(mtime)
	if delta < 0 {
		delta = -delta
	}
	return delta > tolerance, nil
}

// RemoveFile deletes a file's row (and, via ON DELETE CASCADE, its
// chunks and file_tags edges). Callers are expected to have already
// re-confirmed the file's absence via the Arbitrator pattern before
// calling this (spec.md §4.6: "re-check os.Stat immediately before
// acting on a deletion").
func (r *Repository) RemoveFile(fileID int64) error {
	res, err := r.db.Exec(`DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("remove file %d: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove file %d: %w", fileID, err)
	}
	if n == 0 {
		return fmt.Errorf("remove file %d: %w", fileID, fserr.ErrNotFound)
	}
	return nil
}

// RenameFile updates a file's recorded path in place, preserving its
// file_id (and therefore its inode), per spec.md §4.6's rename
// handling ("the Watcher treats a rename as an update to the existing
// file_id's abs_path, not a delete+create").
func (r *Repository) RenameFile(fileID int64, newAbsPath string) error {
	_, err := r.db.Exec(`UPDATE files SET abs_path = ? WHERE file_id = ?`, newAbsPath, fileID)
	if err != nil {
		return fmt.Errorf("rename file %d to %s: %w", fileID, newAbsPath, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
