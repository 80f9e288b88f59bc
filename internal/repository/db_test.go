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

package repository_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bryceygordon/MagicFS/internal/repository"
)

// TestSteadyWriteSurvivesReopenWithoutCheckpoint exercises invariant 7:
// once Steady mode has handed over to WAL, a write committed before the
// process exits must still be visible after the database file is
// reopened from scratch, even without an explicit checkpoint in
// between. This is the crash-recovery guarantee WAL mode buys: the
// commit lives in the *-wal file until the next checkpoint, and SQLite
// replays it on the next connection regardless.
func TestSteadyWriteSurvivesReopenWithoutCheckpoint(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")

	repo, err := repository.Open(dbPath, 4)
	require.NoError(t, err)
	require.NoError(t, repo.HandoverToSteady())

	journal, err := repo.PragmaString("journal_mode")
	require.NoError(t, err)
	require.Equal(t, "wal", journal)

	fileID, err := repo.UpsertFile("/docs/survives.txt", time.Unix(1000, 0), 42, false)
	require.NoError(t, err)

	// No checkpoint, no graceful shutdown sequence — just close the
	// handle the way an abrupt process exit would leave the *-wal file.
	require.NoError(t, repo.Close())

	reopened, err := repository.Open(dbPath, 4)
	require.NoError(t, err)
	defer reopened.Close()

	rec, ok, err := reopened.FileByID(fileID)
	require.NoError(t, err)
	require.True(t, ok, "write committed under WAL must survive a reopen without an explicit checkpoint")
	require.Equal(t, "/docs/survives.txt", rec.AbsPath)
	require.EqualValues(t, 42, rec.Size)
}
