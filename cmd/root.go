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

// Package cmd is the daemon's CLI surface, per spec.md §6: a cobra
// root command taking `<mountpoint> <watch-root-list>`, flag/env/file
// config resolution via cfg.BindFlags and cfg.Load, and the mount
// lifecycle in mount.go.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/bryceygordon/MagicFS/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "magicfs <mountpoint> <watch-root-list>",
	Short: "Mount a semantic, tag-addressable view over one or more directory trees",
	Long: `MagicFS is a user-space filesystem that indexes the contents of one
or more watched directory trees and exposes them again through a
virtual namespace of full-text/semantic search views and a
user-managed tag graph, without ever moving or renaming the
originals.`,
	Args: cobra.ExactArgs(2),
	RunE: runMount,
}

// Execute is the CLI entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("bind flags: %w", err))
		os.Exit(1)
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	v := cfg.NewViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags to viper: %w", err)
	}

	c, err := cfg.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("canonicalize mount point: %w", err)
	}
	c.MountPoint = mountPoint

	roots := strings.Split(args[1], ",")
	for i, r := range roots {
		abs, err := filepath.Abs(strings.TrimSpace(r))
		if err != nil {
			return fmt.Errorf("canonicalize watch root %q: %w", r, err)
		}
		roots[i] = abs
	}
	c.WatchRoots = roots

	if c.Paths.DataDir == "" {
		dataDir, err := defaultDataDir()
		if err != nil {
			return fmt.Errorf("resolve data directory: %w", err)
		}
		c.Paths.DataDir = dataDir
	}

	if err := validateConfig(c); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	closer, err := logger.Init(c.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	return mount(context.Background(), c)
}

// defaultDataDir resolves ${XDG_DATA_HOME}/magicfs, falling back to
// ~/.local/share/magicfs when XDG_DATA_HOME is unset, per spec.md §6.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "magicfs"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("user home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "magicfs"), nil
}

// validateConfig rejects configurations spec.md §6/§7 call out as
// fatal startup errors: a nonexistent watch root, or a mount point
// nested inside a watch root (which would feed the daemon's own
// output back into itself as input — the "feedback loop" the CLI's
// exit-code contract names).
func validateConfig(c *cfg.Config) error {
	if len(c.WatchRoots) == 0 {
		return fmt.Errorf("at least one watch root is required")
	}
	for _, root := range c.WatchRoots {
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("watch root %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch root %s is not a directory", root)
		}
		if isSubPath(root, c.MountPoint) {
			return fmt.Errorf("feedback loop detected: mount point %s is under watch root %s", c.MountPoint, root)
		}
	}
	if c.Embedding.ModelPath == "" {
		return fmt.Errorf("embedding.model-path is required")
	}
	return nil
}

func isSubPath(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
