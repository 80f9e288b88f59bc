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

import "strings"

// splitPriority is the ordered list of separators the chunker tries,
// from the most structurally meaningful (paragraph breaks) down to
// none at all (a hard character cut), mirroring the recursive
// character splitter pattern common to embedding pipelines.
var splitPriority = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk splits text into pieces of at most maxChars runes, preferring
// to break on paragraph, then line, then sentence, then word
// boundaries before falling back to a hard cut, and never splitting a
// multi-byte UTF-8 rune in half.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = 512
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(runes) <= maxChars {
		return []string{text}
	}

	return splitRecursive(text, maxChars, 0)
}

func splitRecursive(text string, maxChars int, sepIdx int) []string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	if sepIdx >= len(splitPriority) {
		return hardSplit(text, maxChars)
	}

	sep := splitPriority[sepIdx]
	if sep == "" {
		return hardSplit(text, maxChars)
	}

	pieces := strings.Split(text, sep)
	if len(pieces) <= 1 {
		return splitRecursive(text, maxChars, sepIdx+1)
	}

	return mergePieces(pieces, sep, maxChars, sepIdx)
}

// mergePieces greedily packs consecutive pieces (each already no
// larger than maxChars after recursing where needed) back together up
// to maxChars runes, so a chunk boundary coincides with a separator
// whenever one is available within budget.
func mergePieces(pieces []string, sep string, maxChars, sepIdx int) []string {
	var out []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() > 0 && strings.TrimSpace(current.String()) != "" {
			out = append(out, current.String())
		}
		current.Reset()
		currentLen = 0
	}

	for i, piece := range pieces {
		pieceRunes := []rune(piece)
		if len(pieceRunes) > maxChars {
			flush()
			out = append(out, splitRecursive(piece, maxChars, sepIdx+1)...)
			continue
		}

		addition := len(pieceRunes)
		sepLen := 0
		if current.Len() > 0 {
			sepLen = len([]rune(sep))
		}
		if currentLen+sepLen+addition > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
			currentLen += len([]rune(sep))
		}
		current.WriteString(piece)
		currentLen += addition
		_ = i
	}
	flush()
	return out
}

// hardSplit is the last-resort fallback: cut at exactly maxChars runes
// without regard to word boundaries, always on a rune boundary so
// multi-byte UTF-8 sequences are never torn.
func hardSplit(text string, maxChars int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := maxChars
		if n > len(runes) {
			n = len(runes)
		}
		piece := string(runes[:n])
		if strings.TrimSpace(piece) != "" {
			out = append(out, piece)
		}
		runes = runes[n:]
	}
	return out
}
