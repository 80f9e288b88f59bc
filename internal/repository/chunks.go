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
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Chunk is one indexed slice of a file's extracted text, paired with
// its embedding vector.
type Chunk struct {
	Ordinal   int
	Text      string
	Embedding []float32
}

// ReplaceChunks atomically replaces all of a file's chunks (both the
// chunks/chunks_fts rows and the chunks_vec rows) with a new set, in a
// single transaction. Delete-then-reinsert rather than diff-and-patch,
// matching spec.md §4.3's description of re-indexing as replacing a
// file's contribution wholesale rather than reconciling individual
// chunks.
func (r *Repository) ReplaceChunks(fileID int64, chunks []Chunk) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace-chunks tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChunksTx(tx, fileID); err != nil {
		return err
	}

	insertChunk, err := tx.Prepare(`INSERT INTO chunks (file_id, ordinal, text) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer insertChunk.Close()

	insertVec, err := tx.Prepare(`INSERT INTO chunks_vec (rowid, file_id, ordinal, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer insertVec.Close()

	for _, c := range chunks {
		res, err := insertChunk.Exec(fileID, c.Ordinal, c.Text)
		if err != nil {
			return fmt.Errorf("insert chunk %d/%d: %w", fileID, c.Ordinal, err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("chunk rowid %d/%d: %w", fileID, c.Ordinal, err)
		}

		blob, err := sqlite_vec.SerializeFloat32(c.Embedding)
		if err != nil {
			return fmt.Errorf("serialize embedding %d/%d: %w", fileID, c.Ordinal, err)
		}
		if _, err := insertVec.Exec(rowid, fileID, c.Ordinal, blob); err != nil {
			return fmt.Errorf("insert vector %d/%d: %w", fileID, c.Ordinal, err)
		}
	}

	return tx.Commit()
}

// DeleteChunks removes all chunks (and vectors) for a file, used when a
// file is deleted or becomes unreadable (blocked extension, over size
// limit) after having previously been indexed.
func (r *Repository) DeleteChunks(fileID int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete-chunks tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChunksTx(tx, fileID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteChunksTx(tx *sql.Tx, fileID int64) error {
	if _, err := tx.Exec(`DELETE FROM chunks_vec WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete vectors for file %d: %w", fileID, err)
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete chunks for file %d: %w", fileID, err)
	}
	return nil
}

// ChunksForFile returns the stored text of every chunk for a file, in
// ordinal order, used to rebuild a snippet for a search result (spec.md
// §9's decision to always persist snippet text rather than re-reading
// the file at search time).
func (r *Repository) ChunksForFile(fileID int64) ([]Chunk, error) {
	rows, err := r.db.Query(
		`SELECT ordinal, text FROM chunks WHERE file_id = ? ORDER BY ordinal`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.Ordinal, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk for file %d: %w", fileID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
