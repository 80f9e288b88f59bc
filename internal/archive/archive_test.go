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

package archive_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryceygordon/MagicFS/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesArchiveAndInboxDirs(t *testing.T) {
	dataDir := t.TempDir()

	a, err := archive.New(dataDir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(dataDir, "archive"))
	assert.DirExists(t, filepath.Join(dataDir, "inbox"))
	assert.Equal(t, filepath.Join(dataDir, "archive"), a.ArchiveDir())
	assert.Equal(t, filepath.Join(dataDir, "inbox"), a.InboxDir())
}

func TestAllocatePath_UnderArchiveDir(t *testing.T) {
	a, err := archive.New(t.TempDir())
	require.NoError(t, err)

	path, err := a.AllocatePath("report.pdf")
	require.NoError(t, err)

	assert.Equal(t, a.ArchiveDir(), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "-report.pdf"))
}

func TestAllocatePath_NeverCollides(t *testing.T) {
	a, err := archive.New(t.TempDir())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		path, err := a.AllocatePath("same-name.txt")
		require.NoError(t, err)
		assert.False(t, seen[path], "allocated path repeated: %s", path)
		seen[path] = true
	}
}

func TestAllocatePath_StripsDirectoryComponents(t *testing.T) {
	a, err := archive.New(t.TempDir())
	require.NoError(t, err)

	path, err := a.AllocatePath("../../etc/passwd")
	require.NoError(t, err)

	assert.Equal(t, a.ArchiveDir(), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "-passwd"))
}

func TestAllocatePath_DegenerateSuggestedName(t *testing.T) {
	a, err := archive.New(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "/"} {
		path, err := a.AllocatePath(name)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(path, "-file"), "name %q produced %s", name, path)
	}
}

func TestNew_IdempotentOnExistingDirs(t *testing.T) {
	dataDir := t.TempDir()

	_, err := archive.New(dataDir)
	require.NoError(t, err)

	_, err = archive.New(dataDir)
	require.NoError(t, err)
}

func TestNew_FailsWhenDataDirIsAFile(t *testing.T) {
	dataDir := t.TempDir()
	blocker := filepath.Join(dataDir, "archive")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	_, err := archive.New(dataDir)
	assert.Error(t, err)
}
