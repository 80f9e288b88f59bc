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

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers the daemon's flags on flagSet and binds each to its
// viper key, so MAGICFS_-prefixed environment variables, a YAML config
// file, and flags all resolve into the same Config via Unmarshal.
func BindFlags(flagSet *pflag.FlagSet) error {
	type binding struct {
		key string
		bind func() error
	}

	flagSet.String("data-dir", "", "Override ${XDG_DATA_HOME}/magicfs.")
	flagSet.String("model-id", "default", "Embedding model identifier; isolates the index path per model.")
	flagSet.String("log-severity", "info", "trace|debug|info|warning|error|off.")
	flagSet.String("log-format", "text", "text|json.")
	flagSet.String("log-file", "", "Path to a log file; empty logs to stderr.")
	flagSet.Int64("bouncer-max-size-bytes", 10*1024*1024, "Files larger than this are skipped by the indexer.")
	flagSet.StringSlice("bouncer-blocked-extensions", []string{".zip", ".part", ".lock", ".swp", ".tmp", ".crdownload"}, "Extensions never indexed.")
	flagSet.Int("indexer-chunk-size-chars", 512, "Maximum characters per chunk.")
	flagSet.Int("indexer-workers", 0, "Indexer worker count; 0 uses all CPUs.")
	flagSet.Int("search-top-k", 75, "Nearest-neighbor candidates considered per query.")
	flagSet.Duration("search-readdir-timeout", 0, "Smart Waiter timeout for /search/<q> readdir; 0 uses the 2s default.")
	flagSet.String("search-aggregation", "min", "min|mean chunk-to-file score aggregation.")
	flagSet.Duration("watcher-debounce", 0, "Per-path debounce window; 0 uses the 500ms default.")
	flagSet.Bool("elevated", false, "Run in elevated (root) FUSE-attach mode with UID/GID masquerade.")
	flagSet.Bool("tags-trash-enabled", false, "Interpret tag-view rm as an @trash edge instead of a hard edge delete.")
	flagSet.String("embedding-model-path", "", "Path to the ONNX embedding model file.")
	flagSet.String("embedding-library-path", "", "Path to the ONNX Runtime shared library.")
	flagSet.Int("embedding-dimensions", 384, "Dimensionality of the embedding model's output vectors.")
	flagSet.Int("embedding-max-seq-len", 256, "Maximum token sequence length the embedding model accepts.")

	bindings := []binding{
		{"paths.data-dir", func() error { return viper.BindPFlag("paths.data-dir", flagSet.Lookup("data-dir")) }},
		{"paths.model-id", func() error { return viper.BindPFlag("paths.model-id", flagSet.Lookup("model-id")) }},
		{"logging.severity", func() error { return viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")) }},
		{"logging.format", func() error { return viper.BindPFlag("logging.format", flagSet.Lookup("log-format")) }},
		{"logging.file-path", func() error { return viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")) }},
		{"bouncer.max-file-size-bytes", func() error {
			return viper.BindPFlag("bouncer.max-file-size-bytes", flagSet.Lookup("bouncer-max-size-bytes"))
		}},
		{"bouncer.blocked-extensions", func() error {
			return viper.BindPFlag("bouncer.blocked-extensions", flagSet.Lookup("bouncer-blocked-extensions"))
		}},
		{"indexer.chunk-size-chars", func() error {
			return viper.BindPFlag("indexer.chunk-size-chars", flagSet.Lookup("indexer-chunk-size-chars"))
		}},
		{"indexer.worker-count", func() error { return viper.BindPFlag("indexer.worker-count", flagSet.Lookup("indexer-workers")) }},
		{"search.top-k", func() error { return viper.BindPFlag("search.top-k", flagSet.Lookup("search-top-k")) }},
		{"search.readdir-timeout", func() error {
			return viper.BindPFlag("search.readdir-timeout", flagSet.Lookup("search-readdir-timeout"))
		}},
		{"search.aggregation", func() error { return viper.BindPFlag("search.aggregation", flagSet.Lookup("search-aggregation")) }},
		{"watcher.debounce-window", func() error {
			return viper.BindPFlag("watcher.debounce-window", flagSet.Lookup("watcher-debounce"))
		}},
		{"fuse.elevated", func() error { return viper.BindPFlag("fuse.elevated", flagSet.Lookup("elevated")) }},
		{"tags.trash-enabled", func() error { return viper.BindPFlag("tags.trash-enabled", flagSet.Lookup("tags-trash-enabled")) }},
		{"embedding.model-path", func() error {
			return viper.BindPFlag("embedding.model-path", flagSet.Lookup("embedding-model-path"))
		}},
		{"embedding.library-path", func() error {
			return viper.BindPFlag("embedding.library-path", flagSet.Lookup("embedding-library-path"))
		}},
		{"embedding.dimensions", func() error {
			return viper.BindPFlag("embedding.dimensions", flagSet.Lookup("embedding-dimensions"))
		}},
		{"embedding.max-seq-len", func() error {
			return viper.BindPFlag("embedding.max-seq-len", flagSet.Lookup("embedding-max-seq-len"))
		}},
	}

	for _, b := range bindings {
		if err := b.bind(); err != nil {
			return err
		}
	}

	return nil
}
