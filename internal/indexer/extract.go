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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor turns a file's raw bytes into plain text ready for
// chunking. Non-text formats (PDF, DOCX, ...) are explicit Non-goals
// per spec.md: they report ErrUnsupportedFormat rather than silently
// indexing garbage.
type Extractor interface {
	Extract(absPath string) (string, error)
}

// ErrUnsupportedFormat is returned by an Extractor for a format it
// deliberately does not parse.
var ErrUnsupportedFormat = fmt.Errorf("unsupported format")

// sourceCommentPrefixes maps a lowercase file extension to its
// single-line comment marker, used by sourceExtractor to strip boilerplate
// license headers and comments from source files before chunking so
// embeddings represent code semantics rather than license text.
var sourceCommentPrefixes = map[string]string{
	".go": "//", ".c": "//", ".h": "//", ".cpp": "//", ".hpp": "//",
	".java": "//", ".js": "//", ".ts": "//", ".rs": "//", ".swift": "//",
	".py": "#", ".rb": "#", ".sh": "#", ".yaml": "#", ".yml": "#", ".toml": "#",
}

// SelectExtractor picks the Extractor for absPath based on its
// extension: plain text for unrecognized/text extensions, a
// comment-stripping variant for known source extensions, and an
// unsupported stub for binary document formats that this version does
// not parse.
func SelectExtractor(absPath string) Extractor {
	ext := strings.ToLower(filepath.Ext(absPath))
	switch ext {
	case ".pdf", ".docx", ".doc", ".odt", ".rtf":
		return unsupportedExtractor{}
	}
	if _, ok := sourceCommentPrefixes[ext]; ok {
		return sourceExtractor{commentPrefix: sourceCommentPrefixes[ext]}
	}
	return plainTextExtractor{}
}

// plainTextExtractor reads a file's bytes verbatim as UTF-8 text.
type plainTextExtractor struct{}

func (plainTextExtractor) Extract(absPath string) (string, error) {
	b, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", absPath, err)
	}
	return string(b), nil
}

// sourceExtractor reads a source file and strips whole-line comments
// recognized by commentPrefix, doc comments included; code and
// end-of-line comments are kept (stripping only reduces noise from
// separator lines and license banners, it does not attempt real
// language-aware parsing).
type sourceExtractor struct {
	commentPrefix string
}

func (s sourceExtractor) Extract(absPath string) (string, error) {
	b, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", absPath, err)
	}

	lines := strings.Split(string(b), "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, s.commentPrefix) && len(trimmed) > 0 {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), nil
}

// unsupportedExtractor reports ErrUnsupportedFormat for binary document
// formats spec.md's Non-goals exclude from content extraction (the
// file is still indexed by filename/tags, just with no chunk content).
type unsupportedExtractor struct{}

func (unsupportedExtractor) Extract(absPath string) (string, error) {
	return "", fmt.Errorf("extract %s: %w", absPath, ErrUnsupportedFormat)
}
