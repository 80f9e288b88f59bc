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

package inode

import (
	"hash/fnv"
	"strconv"
)

// EphemeralFlag marks an inode derived from a query string rather than
// from persistent state, distinguishing it from a file_id in the low
// range. It shares the data model's notion of a "flag bit"; unlike
// PersistentFlag it coexists with file IDs by construction (FNV-1a output
// masked into the high-but-not-MSB half of the space), since a search
// inode and a tag inode must never collide with each other either.
const EphemeralFlag ID = 1 << 62

// QueryHash deterministically derives the ephemeral inode for a search
// view from its query string. spec.md §3 requires this to be stable
// across process restarts, which rules out Go's randomized default map
// hasher; FNV-1a (hash/fnv) is the stdlib's non-randomized hash and is
// exactly the tool spec.md names — no third-party hash library in the
// example corpus offers anything it doesn't.
func QueryHash(query string) ID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	return (ID(h.Sum64()) &^ PersistentFlag) | EphemeralFlag
}

// ResultHash derives the ephemeral inode for one search-result pseudo-file,
// hashing "query\x00file_id" per spec.md §3.
func ResultHash(query string, fileID int64) ID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(fileID, 10)))
	return (ID(h.Sum64()) &^ PersistentFlag) | EphemeralFlag
}

// IsEphemeral reports whether id was minted by QueryHash or ResultHash.
func IsEphemeral(id ID) bool {
	return id&EphemeralFlag != 0 && id&PersistentFlag == 0
}
