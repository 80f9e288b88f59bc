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

package embedact

import (
	"hash/fnv"
	"strings"
)

// HashTokenizer is a vocabulary-free fallback satisfying
// ONNXConfig.Tokenize when no model-specific tokenizer is configured.
// The embedding model itself is a black box whose real vocabulary file
// ships beside the .onnx weights; this package never bundles one. A
// deployment with a concrete model supplies its own Tokenize func
// (e.g. wrapping a WordPiece or BPE vocab loaded from that sidecar
// file); HashTokenizer exists so the daemon still runs, end to end,
// against any ONNX model whose tokenizer hook isn't wired yet.
//
// It buckets each whitespace-split word into [0, vocabSize) with
// FNV-1a, the same non-randomized stdlib hash internal/inode uses for
// its own deterministic ID derivation, and truncates/pads to maxSeqLen.
type HashTokenizer struct {
	vocabSize int
	maxSeqLen int
}

// NewHashTokenizer builds a HashTokenizer for a model with the given
// vocabulary size and maximum sequence length.
func NewHashTokenizer(vocabSize, maxSeqLen int) *HashTokenizer {
	return &HashTokenizer{vocabSize: vocabSize, maxSeqLen: maxSeqLen}
}

// Tokenize implements ONNXConfig.Tokenize.
func (t *HashTokenizer) Tokenize(text string) ([]int64, error) {
	words := strings.Fields(text)
	n := len(words)
	if t.maxSeqLen > 0 && n > t.maxSeqLen {
		n = t.maxSeqLen
	}

	vocabSize := t.vocabSize
	if vocabSize <= 0 {
		vocabSize = 30000
	}

	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(words[i]))
		ids[i] = int64(h.Sum32() % uint32(vocabSize))
	}
	return ids, nil
}
