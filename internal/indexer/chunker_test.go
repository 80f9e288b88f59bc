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

package indexer_test

import (
	"strings"
	"testing"

	"github.com/bryceygordon/MagicFS/internal/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ShortTextIsOneChunk(t *testing.T) {
	pieces := indexer.Chunk("hello world", 512)
	require.Len(t, pieces, 1)
	assert.Equal(t, "hello world", pieces[0])
}

func TestChunk_RespectsMaxChars(t *testing.T) {
	text := strings.Repeat("word ", 300)
	pieces := indexer.Chunk(text, 64)
	require.NotEmpty(t, pieces)
	for _, p := range pieces {
		assert.LessOrEqual(t, len([]rune(p)), 64)
	}
}

func TestChunk_PrefersParagraphBreaks(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30)
	pieces := indexer.Chunk(text, 35)
	require.Len(t, pieces, 2)
	assert.Contains(t, pieces[0], "aaaa")
	assert.Contains(t, pieces[1], "bbbb")
}

func TestChunk_NeverSplitsMultiByteRune(t *testing.T) {
	text := strings.Repeat("日本語テスト", 50)
	pieces := indexer.Chunk(text, 10)
	for _, p := range pieces {
		assert.True(t, len([]rune(p)) <= 10)
		// Re-encoding must round-trip cleanly; a torn rune would
		// produce the UTF-8 replacement character.
		assert.False(t, strings.ContainsRune(p, '�'))
	}
}

func TestChunk_EmptyTextProducesNoChunks(t *testing.T) {
	assert.Empty(t, indexer.Chunk("", 100))
	assert.Empty(t, indexer.Chunk("   \n\n  ", 100))
}
