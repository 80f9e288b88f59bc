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

package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/state"
)

// fakeEmbedder satisfies embedact.Embedder without a real ONNX model,
// the same role embedact_test's fakeEmbedder plays for the Actor alone.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Close() error    { return nil }

func testConfig(t *testing.T) *cfg.Config {
	t.Helper()
	c := cfg.Default()
	c.Paths.DataDir = t.TempDir()
	c.Paths.ModelID = "test-model"
	watchRoot := t.TempDir()
	c.WatchRoots = []string{watchRoot}
	c.MountPoint = t.TempDir()
	c.Embedding.Dimensions = 4
	return c
}

func TestNew_BuildsFullObjectGraph(t *testing.T) {
	c := testConfig(t)
	embedder := &fakeEmbedder{dims: 4}

	st, err := state.New(c, embedder, prometheus.NewRegistry())
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st.Repo)
	assert.NotNil(t, st.Inodes)
	assert.NotNil(t, st.Actor)
	assert.NotNil(t, st.Archive)
	assert.NotNil(t, st.Orchestrator)
	assert.NotNil(t, st.Watcher)
	assert.NotNil(t, st.FileSystem)
	assert.NotNil(t, st.Metrics)

	assert.DirExists(t, filepath.Join(c.Paths.DataDir, "archive"))
	assert.DirExists(t, filepath.Join(c.Paths.DataDir, "inbox"))
	assert.FileExists(t, filepath.Join(c.Paths.DataDir, "magicfs_test-model", "index.db"))
}

func TestNew_FailsWithoutDataDir(t *testing.T) {
	c := testConfig(t)
	c.Paths.DataDir = ""

	_, err := state.New(c, &fakeEmbedder{dims: 4}, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestNew_CleansUpOnArchiveFailure(t *testing.T) {
	c := testConfig(t)

	// Block the archive directory with a regular file so archive.New
	// fails after the repository has already been opened, exercising
	// that error path and checking that New reports the failure.
	require.NoError(t, os.MkdirAll(filepath.Join(c.Paths.DataDir, "magicfs_test-model"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Paths.DataDir, "archive"), []byte("block"), 0o644))

	_, err := state.New(c, &fakeEmbedder{dims: 4}, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestRun_StopsWhenContextCanceled(t *testing.T) {
	c := testConfig(t)
	st, err := state.New(c, &fakeEmbedder{dims: 4}, prometheus.NewRegistry())
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestClose_IsSafeWithoutRun(t *testing.T) {
	c := testConfig(t)
	st, err := state.New(c, &fakeEmbedder{dims: 4}, prometheus.NewRegistry())
	require.NoError(t, err)

	assert.NoError(t, st.Close())
}
