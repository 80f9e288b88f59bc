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

// Package fserr centralizes the internal-error taxonomy of spec.md §7 and
// its translation to POSIX errno values at the Filesystem Face, so no
// component other than internal/fsface needs to know about fuse.Errno.
package fserr

import (
	"errors"
	"syscall"

	"github.com/jacobsa/fuse"
)

// Sentinel errors. Components return these (optionally wrapped with
// fmt.Errorf("%w", ...) for context) instead of POSIX codes; only the Face
// converts them.
var (
	ErrNotFound        = errors.New("magicfs: not found")
	ErrPermission      = errors.New("magicfs: permission denied")
	ErrCrossDevice     = errors.New("magicfs: cross-device link")
	ErrInvalidArgument = errors.New("magicfs: invalid argument")
	ErrNotEmpty        = errors.New("magicfs: directory not empty")
	ErrExists          = errors.New("magicfs: already exists")
	ErrNotSupported    = errors.New("magicfs: not supported")
)

// ToErrno converts an internal sentinel error (possibly wrapped) to the
// fuse errno the kernel expects, per spec.md §7's propagation policy.
// Unrecognized errors become EIO rather than panicking the process.
func ToErrno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, ErrPermission):
		return syscall.EACCES
	case errors.Is(err, ErrCrossDevice):
		return syscall.EXDEV
	case errors.Is(err, ErrInvalidArgument):
		return fuse.EINVAL
	case errors.Is(err, ErrNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, ErrExists):
		return fuse.EEXIST
	case errors.Is(err, ErrNotSupported):
		return fuse.ENOSYS
	default:
		return fuse.EIO
	}
}
