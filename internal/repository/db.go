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

// Package repository encapsulates all persistent state of spec.md §4.8:
// the relational file registry, tag graph, file-tag edges, and a
// vector-index virtual table, with dual-mode (Bulk vs. Steady)
// durability.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bryceygordon/MagicFS/internal/logger"
)

var registerVecOnce sync.Once

// Mode is the Repository's durability mode, per spec.md §4.8.
type Mode int

const (
	// ModeBulk relaxes durability for the initial indexing storm: a crash
	// redoes the whole bulk session, which spec.md §1 explicitly accepts.
	ModeBulk Mode = iota
	// ModeSteady is the default after handover: WAL + synchronous=NORMAL.
	ModeSteady
)

// Repository is the single durability-mode controller over the SQLite
// database described in spec.md §3/§4.8.
type Repository struct {
	db   *sql.DB
	mode Mode
	mu   sync.Mutex // serializes mode transitions; queries use db's own pool
}

// Open opens (creating if necessary) the SQLite database at path, installs
// the sqlite-vec extension, builds the schema if missing, and starts in
// Bulk mode per spec.md §4.3 ("On startup the Orchestrator enters Bulk
// mode").
func Open(path string, embeddingDims int) (*Repository, error) {
	registerVecOnce.Do(func() {
		sqlite_vec.Auto()
	})

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite only allows one writer; cap the pool so WAL readers don't
	// queue behind a phantom writer limit, mirroring the teacher's
	// practice of sizing its GCS connection pool around the backing
	// store's real concurrency limits.
	db.SetMaxOpenConns(8)

	r := &Repository{db: db}
	if err := r.applyMode(ModeBulk); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply bulk mode: %w", err)
	}

	version, err := SchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if version == "0" {
		if err := CreateSchema(db, embeddingDims); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	} else if err := Migrate(db, version); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	logger.Infof("repository: opened %s in Bulk mode (schema v%s)", path, version)
	return r, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Mode reports the Repository's current durability mode.
func (r *Repository) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// HandoverToSteady performs the Bulk -> Steady critical section of
// spec.md §4.3/§4.8: force a WAL checkpoint, then tighten durability
// pragmas. It is a one-way, idempotent transition — calling it again
// once already in Steady mode is a no-op, since spec.md requires the
// transition never happen backwards or repeat within a process
// lifetime.
func (r *Repository) HandoverToSteady() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == ModeSteady {
		return nil
	}

	if _, err := r.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	if err := r.applyMode(ModeSteady); err != nil {
		return fmt.Errorf("apply steady mode: %w", err)
	}

	logger.Infof("repository: handed over Bulk -> Steady, WAL checkpoint forced")
	return nil
}

func (r *Repository) applyMode(mode Mode) error {
	var stmts []string
	switch mode {
	case ModeBulk:
		stmts = []string{
			`PRAGMA synchronous = OFF`,
			`PRAGMA journal_mode = MEMORY`,
		}
	case ModeSteady:
		stmts = []string{
			`PRAGMA synchronous = NORMAL`,
			`PRAGMA journal_mode = WAL`,
		}
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}

	r.mode = mode
	return nil
}

// PragmaString reads back a pragma's current value, used by tests to
// confirm the Bulk->Steady handover actually took (spec.md §8 Scenario
// F: "PRAGMA journal_mode returns wal and PRAGMA synchronous returns
// NORMAL").
func (r *Repository) PragmaString(name string) (string, error) {
	var v string
	err := r.db.QueryRow("PRAGMA " + name).Scan(&v)
	return v, err
}

// conn exposes the raw handle for components (migrate, files, tags, chunks,
// search) that live in this package; it is unexported from the module's
// perspective since Repository is the only public surface other
// packages should use directly.
func (r *Repository) conn() *sql.DB { return r.db }
