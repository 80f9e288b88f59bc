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
)

// CreateSchema creates every table, index, and virtual table the
// Repository needs, in dependency order, inside a transaction (the
// vec0 virtual table is created outside it, since sqlite-vec does not
// support being created mid-transaction, matching the constraint
// documented in the project-cortex schema this is grounded on).
func CreateSchema(db *sql.DB, embeddingDims int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	statements := []struct {
		name string
		ddl  string
	}{
		{"files", createFilesTable},
		{"tags", createTagsTable},
		{"file_tags", createFileTagsTable},
		{"chunks", createChunksTable},
		{"chunks_fts", createChunksFTSTable},
		{"cache_metadata", createCacheMetadataTable},
	}

	for _, s := range statements {
		if _, err := tx.Exec(s.ddl); err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}

	// A file's inode is its file_id, so file_ids start above the
	// hard-coded system inodes (inode.FirstFileID = 100).
	if _, err := tx.Exec(`INSERT INTO sqlite_sequence (name, seq) SELECT 'files', 99 WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = 'files')`); err != nil {
		return fmt.Errorf("seed files sequence: %w", err)
	}

	for i, idx := range allIndexes() {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("create index %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}

	if err := createVectorIndex(db, embeddingDims); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	if err := createFTSTriggers(db); err != nil {
		return fmt.Errorf("create FTS triggers: %w", err)
	}

	return bootstrapMetadata(db, embeddingDims)
}

func bootstrapMetadata(db *sql.DB, embeddingDims int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin metadata transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cache_metadata (key, value) VALUES
			('schema_version', '1'),
			('embedding_dimensions', ?)
		ON CONFLICT(key) DO NOTHING
	`, fmt.Sprintf("%d", embeddingDims))
	if err != nil {
		return fmt.Errorf("bootstrap cache_metadata: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion retrieves the schema version, returning "0" for a
// brand-new database so Migrate can treat it as the base case.
func SchemaVersion(db *sql.DB) (string, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='cache_metadata'`).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check cache_metadata: %w", err)
	}
	if exists == 0 {
		return "0", nil
	}

	var version string
	err = db.QueryRow(`SELECT value FROM cache_metadata WHERE key = 'schema_version'`).Scan(&version)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}

func createVectorIndex(db *sql.DB, dims int) error {
	_, err := db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(
			file_id INTEGER,
			ordinal INTEGER,
			embedding FLOAT[%d] distance_metric=cosine
		)`, dims))
	return err
}

func createFTSTriggers(db *sql.DB) error {
	statements := []string{
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func allIndexes() []string {
	return []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_abs_path ON files(abs_path)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_parent ON tags(parent_tag_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_parent_name ON tags(parent_tag_id, name)`,
		`CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag_id)`,
		`CREATE INDEX IF NOT EXISTS idx_file_tags_file ON file_tags(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id)`,
	}
}

const createFilesTable = `
CREATE TABLE IF NOT EXISTS files (
	file_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	abs_path   TEXT NOT NULL,
	mtime      INTEGER NOT NULL,  -- unix seconds, whole-second precision
	size       INTEGER NOT NULL,
	is_dir     INTEGER NOT NULL DEFAULT 0
)
`

const createTagsTable = `
CREATE TABLE IF NOT EXISTS tags (
	tag_id        INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_tag_id INTEGER REFERENCES tags(tag_id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	is_system     INTEGER NOT NULL DEFAULT 0
)
`

const createFileTagsTable = `
CREATE TABLE IF NOT EXISTS file_tags (
	file_id      INTEGER NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
	tag_id       INTEGER NOT NULL REFERENCES tags(tag_id) ON DELETE CASCADE,
	display_name TEXT NOT NULL,
	added_at     INTEGER NOT NULL,
	PRIMARY KEY (file_id, tag_id)
)
`

const createChunksTable = `
CREATE TABLE IF NOT EXISTS chunks (
	file_id  INTEGER NOT NULL REFERENCES files(file_id) ON DELETE CASCADE,
	ordinal  INTEGER NOT NULL,
	text     TEXT,
	PRIMARY KEY (file_id, ordinal)
)
`

const createChunksFTSTable = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content='chunks',
	content_rowid='rowid',
	tokenize = "unicode61 separators '._'"
)
`

const createCacheMetadataTable = `
CREATE TABLE IF NOT EXISTS cache_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)
`
