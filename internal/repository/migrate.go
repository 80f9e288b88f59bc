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

	"github.com/bryceygordon/MagicFS/internal/logger"
)

// migration is one idempotent step applied in sequence. Each step must
// tolerate being re-applied to a database that already has it (e.g. via
// "ALTER TABLE ... ADD COLUMN" guarded by a column-existence check)
// since SchemaVersion is advisory, not a lock against a half-applied
// prior run.
type migration struct {
	toVersion string
	apply     func(db *sql.DB) error
}

// migrations lists every step beyond the version CreateSchema produces
// directly. It is empty today; its presence and the Migrate dispatcher
// are the seam a future schema change hooks into without touching
// CreateSchema or breaking caches built by an older MagicFS binary,
// matching the teacher's file_cache_version-gated SQLite migration
// pattern.
var migrations = []migration{}

// Migrate advances a cache database from fromVersion to the latest
// known schema version, applying each migration step in order. A cache
// at a newer version than this binary knows about is left untouched
// (future-version caches are expected to still mostly work, per
// spec.md's tolerance for unknown columns) rather than rejected.
func Migrate(db *sql.DB, fromVersion string) error {
	current := fromVersion
	for _, m := range migrations {
		if current >= m.toVersion {
			continue
		}
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migrate to %s: %w", m.toVersion, err)
		}
		if _, err := db.Exec(
			`UPDATE cache_metadata SET value = ? WHERE key = 'schema_version'`,
			m.toVersion,
		); err != nil {
			return fmt.Errorf("record schema_version %s: %w", m.toVersion, err)
		}
		logger.Infof("repository: migrated cache schema to v%s", m.toVersion)
		current = m.toVersion
	}
	return nil
}

// columnExists reports whether table has a column named col, used by
// migration steps to make ADD COLUMN idempotent (SQLite has no
// "ADD COLUMN IF NOT EXISTS").
func columnExists(db *sql.DB, table, col string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}
