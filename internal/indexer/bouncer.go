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

// Package indexer implements spec.md §4.3: turning a changed file on
// disk into chunks, embeddings, and a written Repository record.
package indexer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bryceygordon/MagicFS/cfg"
)

// SkipReason names why the Bouncer rejected a file, used for logging
// and metrics rather than control flow.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipHidden         SkipReason = "hidden"
	SkipTooLarge       SkipReason = "too_large"
	SkipBlockedExt     SkipReason = "blocked_extension"
	SkipBinary         SkipReason = "binary"
	SkipIgnorePattern  SkipReason = "ignore_pattern"
	SkipUnreadable     SkipReason = "unreadable"
)

// Bouncer is the gatekeeper of spec.md §4.3: decides, cheaply and
// without reading a file's full contents unless necessary, whether it
// is eligible for indexing at all.
type Bouncer struct {
	cfg     cfg.BouncerConfig
	ignores IgnoreSet
}

// NewBouncer constructs a Bouncer bound to the given configuration and
// the currently loaded .magicfsignore patterns for its watch roots.
func NewBouncer(c cfg.BouncerConfig, ignores IgnoreSet) *Bouncer {
	return &Bouncer{cfg: c, ignores: ignores}
}

// Admit decides whether absPath should be indexed. It stats the file
// itself (cheap) and, only if every cheap check passes, sniffs the
// first BinarySniffBytes to rule out binary content.
func (b *Bouncer) Admit(absPath string, info os.FileInfo) (bool, SkipReason) {
	base := filepath.Base(absPath)
	if strings.HasPrefix(base, ".") {
		return false, SkipHidden
	}

	if b.ignores.Matches(absPath) {
		return false, SkipIgnorePattern
	}

	ext := strings.ToLower(filepath.Ext(base))
	for _, blocked := range b.cfg.BlockedExtensions {
		if ext == strings.ToLower(blocked) {
			return false, SkipBlockedExt
		}
	}

	if info.Size() > b.cfg.MaxFileSizeBytes {
		return false, SkipTooLarge
	}

	isBinary, err := b.sniffBinary(absPath)
	if err != nil {
		return false, SkipUnreadable
	}
	if isBinary {
		return false, SkipBinary
	}

	return true, SkipNone
}

// sniffBinary reads up to BinarySniffBytes and applies two heuristics
// shared by most text-vs-binary sniffers: a raw NUL byte, or invalid
// UTF-8 past a small tolerance, marks the file as binary.
func (b *Bouncer) sniffBinary(absPath string) (bool, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, b.cfg.BinarySniffBytes)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	buf = buf[:n]

	if bytes.IndexByte(buf, 0) >= 0 {
		return true, nil
	}

	return !utf8.Valid(buf), nil
}
