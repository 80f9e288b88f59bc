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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fsutil"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/embedact"
	"github.com/bryceygordon/MagicFS/internal/logger"
	"github.com/bryceygordon/MagicFS/internal/perms"
	"github.com/bryceygordon/MagicFS/internal/state"

	"github.com/prometheus/client_golang/prometheus"
)

// mount builds the daemon's object graph, attaches it to the kernel at
// c.MountPoint, and blocks until the mount is torn down by SIGINT/
// SIGTERM or an unrecoverable error.
func mount(ctx context.Context, c *cfg.Config) (err error) {
	// Sanity check: make sure the data directory is actually writable
	// before committing to a mount, giving a clearer error than a
	// hard-to-debug EIO once the filesystem is live.
	if err = os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", c.Paths.DataDir, err)
	}
	var probe *os.File
	probe, err = fsutil.AnonymousFile(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("data directory %s unwritable: %w", c.Paths.DataDir, err)
	}
	probe.Close()

	uid, gid, err := perms.ResolveOwner(c.Fuse.Elevated, c.Fuse.Uid, c.Fuse.Gid)
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}
	c.Fuse.Uid = int(uid)
	c.Fuse.Gid = int(gid)

	embedder, err := newEmbedder(c.Embedding)
	if err != nil {
		return fmt.Errorf("load embedding model: %w", err)
	}

	st, err := state.New(c, embedder, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("build daemon state: %w", err)
	}

	server := fuseutil.NewFileSystemServer(st.FileSystem)
	mountCfg := &fuse.MountConfig{
		FSName:     "magicfs",
		Subtype:    "magicfs",
		VolumeName: "magicfs",
	}

	logger.Infof("mounting magicfs at %s (watching %v)", c.MountPoint, c.WatchRoots)
	mfs, err := fuse.Mount(c.MountPoint, server, mountCfg)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("mount: %w", err)
	}

	registerSignalHandler(c.MountPoint)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- st.Run(runCtx) }()

	joinErr := mfs.Join(context.Background())
	cancel()
	<-runErr

	if closeErr := st.Close(); closeErr != nil {
		logger.Warnf("shutdown: %v", closeErr)
	}

	if joinErr != nil {
		return fmt.Errorf("mount joined with error: %w", joinErr)
	}
	return nil
}

// newEmbedder constructs the real ONNX embedding model per
// SPEC_FULL.md's embedding section; the vocabulary-aware tokenizer a
// production model ships beside its weights is out of this package's
// scope (spec.md §1's "black box" boundary), so a HashTokenizer stands
// in whenever no model-specific one is wired.
func newEmbedder(ec cfg.EmbeddingConfig) (embedact.Embedder, error) {
	tokenizer := embedact.NewHashTokenizer(30000, ec.MaxSeqLen)
	return embedact.NewONNXEmbedder(embedact.ONNXConfig{
		ModelPath:   ec.ModelPath,
		LibraryPath: ec.LibraryPath,
		Dimensions:  ec.Dimensions,
		MaxSeqLen:   ec.MaxSeqLen,
		Tokenize:    tokenizer.Tokenize,
	})
}

// registerSignalHandler unmounts mountPoint on SIGINT or SIGTERM,
// retrying until the kernel releases the mount point, grounded on the
// teacher's registerSIGINTHandler but extended to SIGTERM since a
// daemon managed by a process supervisor is torn down that way.
func registerSignalHandler(mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			sig := <-signalChan
			logger.Infof("received %v, attempting to unmount...", sig)

			if err := fuse.Unmount(mountPoint); err != nil {
				logger.Errorf("failed to unmount in response to %v: %v", sig, err)
				continue
			}
			logger.Infof("successfully unmounted in response to %v", sig)
			return
		}
	}()
}
