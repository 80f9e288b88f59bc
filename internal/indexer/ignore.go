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

package indexer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreSet holds the glob patterns loaded from every .magicfsignore
// file discovered under a watch root, keyed by the directory they
// apply to (and every directory beneath it), per spec.md §4.6.
type IgnoreSet struct {
	// patterns maps a base directory to the glob patterns that apply
	// to it and its descendants.
	patterns map[string][]string
}

// NewIgnoreSet returns an empty IgnoreSet.
func NewIgnoreSet() IgnoreSet {
	return IgnoreSet{patterns: make(map[string][]string)}
}

// LoadFile reads one .magicfsignore file and registers its patterns
// under dir, replacing whatever was previously registered for dir (the
// Watcher reloads a file wholesale on every change rather than diffing
// it).
func (s IgnoreSet) LoadFile(dir, ignoreFilePath string) error {
	f, err := os.Open(ignoreFilePath)
	if os.IsNotExist(err) {
		delete(s.patterns, dir)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	s.patterns[dir] = patterns
	return nil
}

// Matches reports whether absPath is excluded by any ignore pattern
// registered for a directory that contains it.
func (s IgnoreSet) Matches(absPath string) bool {
	dir := filepath.Dir(absPath)
	base := filepath.Base(absPath)

	for {
		if patterns, ok := s.patterns[dir]; ok {
			for _, pat := range patterns {
				if matched, _ := filepath.Match(pat, base); matched {
					return true
				}
				if matched, _ := filepath.Match(pat, absPath); matched {
					return true
				}
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return false
}
