// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package perms resolves the UID/GID that MagicFS should report for every
// inode, handling spec.md §6's elevated-mode masquerade.
package perms

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// MyUserAndGroup returns the current process's UID and GID.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	uid = uint32(os.Getuid())
	gid = uint32(os.Getgid())
	return
}

// ResolveOwner decides which UID/GID the filesystem should report for all
// inodes. In user mode this is simply the invoking process's identity. In
// elevated mode (running as root for FUSE attach) it masquerades as the
// target user derived from SUDO_UID/SUDO_GID, per spec.md §6. Explicit
// --uid/--gid overrides, when set, take precedence in either mode.
func ResolveOwner(elevated bool, uidOverride, gidOverride int) (uid uint32, gid uint32, err error) {
	uid, gid, err = MyUserAndGroup()
	if err != nil {
		return
	}

	if elevated && uid == 0 {
		if sUid, ok := envUint32("SUDO_UID"); ok {
			uid = sUid
		}
		if sGid, ok := envUint32("SUDO_GID"); ok {
			gid = sGid
		}
	}

	if uidOverride >= 0 {
		uid = uint32(uidOverride)
	}
	if gidOverride >= 0 {
		gid = uint32(gidOverride)
	}

	return
}

func envUint32(name string) (uint32, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// ChooseWorkerLimit mirrors the teacher's ChooseTempDirLimitNumFiles
// heuristic: ask the process's RLIMIT_NOFILE and use a fraction of it,
// bounded, so the Indexer's worker pool never exhausts file descriptors.
func ChooseWorkerLimit() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 64
	}

	limit := rlimit.Cur/2 + rlimit.Cur/4
	const reasonable = 1 << 12
	if limit > reasonable {
		limit = reasonable
	}
	if limit < 4 {
		limit = 4
	}
	return int(limit)
}

// WidenGroupPermissions ensures path is readable by the owning group even
// when the daemon runs elevated, per spec.md §4.8 ("Permissions of the
// database file... must be readable by the invoking user group even when
// the daemon runs elevated").
func WidenGroupPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	mode := info.Mode().Perm() | 0o040 | 0o004
	return os.Chmod(path, mode)
}
