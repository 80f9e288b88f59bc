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
	"fmt"
	"strings"
)

// ValidateConfig returns a non-nil error describing the first configuration
// problem found, mirroring the teacher's single entry-point validator.
func ValidateConfig(c *Config) error {
	if c.MountPoint == "" {
		return fmt.Errorf("mount point must not be empty")
	}
	if len(c.WatchRoots) == 0 {
		return fmt.Errorf("at least one watch root is required")
	}

	if err := isValidLogRotateConfig(&c.Logging.LogRotate); err != nil {
		return fmt.Errorf("logging.log-rotate: %w", err)
	}

	switch strings.ToUpper(string(c.Logging.Severity)) {
	case string(SeverityTrace), string(SeverityDebug), string(SeverityInfo), string(SeverityWarning), string(SeverityError), string(SeverityOff):
	default:
		return fmt.Errorf("invalid logging.severity: %s", c.Logging.Severity)
	}

	if c.Bouncer.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("bouncer.max-file-size-bytes must be positive")
	}

	if c.Indexer.ChunkSizeChars < 64 {
		return fmt.Errorf("indexer.chunk-size-chars must be at least 64")
	}

	switch c.Search.Aggregation {
	case "min", "mean":
	default:
		return fmt.Errorf("search.aggregation must be \"min\" or \"mean\", got %q", c.Search.Aggregation)
	}

	if c.Search.MaxConcurrent < 1 {
		return fmt.Errorf("search.max-concurrent must be at least 1")
	}

	if err := detectFeedbackLoop(c.MountPoint, c.WatchRoots); err != nil {
		return err
	}

	return nil
}

func isValidLogRotateConfig(r *LogRotateConfig) error {
	if r.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max-file-size-mb must be at least 1")
	}
	if r.BackupFileCnt < 0 {
		return fmt.Errorf("backup-file-count must be 0 (retain all) or positive")
	}
	return nil
}

// detectFeedbackLoop refuses to start if any watch root is a parent of the
// mount point or vice versa, per spec.md §4.6's "Feedback loop guard".
func detectFeedbackLoop(mountPoint string, watchRoots []string) error {
	for _, root := range watchRoots {
		if isPathPrefix(root, mountPoint) || isPathPrefix(mountPoint, root) {
			return fmt.Errorf("feedback loop detected: watch root %q and mount point %q overlap", root, mountPoint)
		}
	}
	return nil
}

func isPathPrefix(prefix, path string) bool {
	prefix = strings.TrimRight(prefix, "/")
	path = strings.TrimRight(path, "/")
	if prefix == path {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
