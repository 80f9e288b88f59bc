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

package fsface

import (
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle buffers one OpenDir-to-ReleaseDirHandle session's listing.
// Entries are computed once, lazily, by the first ReadDir call at
// offset zero (mirroring rewinddir semantics the teacher's
// fs/dir_handle.go documents: "we assume that a zero offset indicates
// that rewinddir has been called").
type dirHandle struct {
	mu      sync.Mutex
	query   string // non-empty for a /search/<query> handle
	entries []fuseutil.Dirent
	built   bool
}

// fileHandle tracks one OpenFile/CreateFile-to-ReleaseFileHandle
// session. dirty is set on every WriteFile so FlushFile knows whether
// to resubmit the file for (re-)indexing.
type fileHandle struct {
	mu        sync.Mutex
	file      *os.File
	absPath   string
	readOnly  bool
	dirty     bool
	isRefresh bool // true for /.magic/refresh: no backing *os.File, writes only trigger Submitter.SubmitRefresh
}
