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

// LogSeverity mirrors the slog-compatible severities the logger accepts.
type LogSeverity string

const (
	SeverityTrace   LogSeverity = "TRACE"
	SeverityDebug   LogSeverity = "DEBUG"
	SeverityInfo    LogSeverity = "INFO"
	SeverityWarning LogSeverity = "WARNING"
	SeverityError   LogSeverity = "ERROR"
	SeverityOff     LogSeverity = "OFF"
)

// Config is the fully resolved MagicFS configuration, assembled by viper
// from flags, environment variables (MAGICFS_ prefix) and an optional YAML
// file, then validated by ValidateConfig.
type Config struct {
	MountPoint string   `yaml:"mount-point"`
	WatchRoots []string `yaml:"watch-roots"`

	Paths     PathsConfig     `yaml:"paths"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bouncer   BouncerConfig   `yaml:"bouncer"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Tags      TagsConfig      `yaml:"tags"`
	Fuse      FuseConfig      `yaml:"fuse"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// PathsConfig locates the daemon's on-disk state, per spec.md §6.
type PathsConfig struct {
	// DataDir overrides ${XDG_DATA_HOME}/magicfs when set.
	DataDir string `yaml:"data-dir"`
	// ModelID is folded into the database path so switching embedding
	// models never blends incompatible vectors: .../magicfs_<model-id>/index.db.
	ModelID string `yaml:"model-id"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
	Format   string      `yaml:"format"` // "text" or "json"
	FilePath string      `yaml:"file-path"`
	// LogRotate mirrors lumberjack's knobs.
	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

type LogRotateConfig struct {
	MaxFileSizeMB  int  `yaml:"max-file-size-mb"`
	BackupFileCnt  int  `yaml:"backup-file-count"`
	Compress       bool `yaml:"compress"`
}

type BouncerConfig struct {
	MaxFileSizeBytes  int64    `yaml:"max-file-size-bytes"`
	BlockedExtensions []string `yaml:"blocked-extensions"`
	IgnoreFileName    string   `yaml:"ignore-file-name"`
	BinarySniffBytes  int      `yaml:"binary-sniff-bytes"`
}

type IndexerConfig struct {
	ChunkSizeChars    int           `yaml:"chunk-size-chars"`
	WorkerCount       int           `yaml:"worker-count"`
	EmbedBatchLimit   int           `yaml:"embed-batch-limit"`
	RetryWindow       time.Duration `yaml:"retry-window"`
	MTimeTolerance    time.Duration `yaml:"mtime-tolerance"`
}

type SearchConfig struct {
	TopK             int           `yaml:"top-k"`
	MaxConcurrent    int           `yaml:"max-concurrent"`
	ReaddirTimeout   time.Duration `yaml:"readdir-timeout"`
	Aggregation      string        `yaml:"aggregation"` // "min" | "mean"
	PersistSnippets  bool          `yaml:"persist-snippets"`
	ResultCacheSize  int           `yaml:"result-cache-size"`
}

type WatcherConfig struct {
	DebounceWindow      time.Duration `yaml:"debounce-window"`
	ThermalLimitPerMin  int           `yaml:"thermal-limit-per-min"`
	ThermalLockout      time.Duration `yaml:"thermal-lockout"`
	QueueCapacity       int           `yaml:"queue-capacity"`
}

type TagsConfig struct {
	TrashEnabled  bool          `yaml:"trash-enabled"`
	TrashTagName  string        `yaml:"trash-tag-name"`
	TrashSweepAge time.Duration `yaml:"trash-sweep-age"`
}

type FuseConfig struct {
	// Elevated is true when running as root for FUSE attach; UID/GID
	// masquerade is then derived from SUDO_UID/SUDO_GID.
	Elevated bool `yaml:"elevated"`
	Uid      int  `yaml:"uid"`
	Gid      int  `yaml:"gid"`
}

// EmbeddingConfig locates the native ONNX embedding model, per spec.md
// §1's "native embedding library is a black box" boundary: MagicFS
// never trains or selects the model, only loads the one configured
// here through internal/embedact.
type EmbeddingConfig struct {
	ModelPath   string `yaml:"model-path"`
	LibraryPath string `yaml:"library-path"`
	Dimensions  int    `yaml:"dimensions"`
	MaxSeqLen   int    `yaml:"max-seq-len"`
}
