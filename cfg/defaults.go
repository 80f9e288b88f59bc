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

import "time"

// Default returns a Config populated with the values spec.md names
// explicitly (10 MiB bouncer cap, ~500ms debounce, ~2s readdir timeout,
// min aggregation, etc.) so a bare invocation is usable.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			ModelID: "default",
		},
		Logging: LoggingConfig{
			Severity: SeverityInfo,
			Format:   "text",
			LogRotate: LogRotateConfig{
				MaxFileSizeMB: 128,
				BackupFileCnt: 5,
				Compress:      true,
			},
		},
		Bouncer: BouncerConfig{
			MaxFileSizeBytes: 10 * 1024 * 1024,
			BlockedExtensions: []string{
				".zip", ".part", ".lock", ".swp", ".tmp", ".crdownload",
			},
			IgnoreFileName:   ".magicfsignore",
			BinarySniffBytes: 8 * 1024,
		},
		Indexer: IndexerConfig{
			ChunkSizeChars:  512,
			WorkerCount:     0, // 0 => runtime.NumCPU()
			EmbedBatchLimit: 64,
			RetryWindow:     2 * time.Second,
			MTimeTolerance:  1 * time.Second,
		},
		Search: SearchConfig{
			TopK:            75,
			MaxConcurrent:   2,
			ReaddirTimeout:  2 * time.Second,
			Aggregation:     "min",
			PersistSnippets: true,
			ResultCacheSize: 50,
		},
		Watcher: WatcherConfig{
			DebounceWindow:     500 * time.Millisecond,
			ThermalLimitPerMin: 5,
			ThermalLockout:     5 * time.Minute,
			QueueCapacity:      4096,
		},
		Tags: TagsConfig{
			TrashEnabled:  false,
			TrashTagName:  "@trash",
			TrashSweepAge: 30 * 24 * time.Hour,
		},
		Fuse: FuseConfig{
			Uid: -1,
			Gid: -1,
		},
		Embedding: EmbeddingConfig{
			Dimensions: 384,
			MaxSeqLen:  256,
		},
	}
}
