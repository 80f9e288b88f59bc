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

package fserr_test

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/bryceygordon/MagicFS/internal/fserr"
	"github.com/jacobsa/fuse"
	"github.com/stretchr/testify/assert"
)

func TestToErrno_Nil(t *testing.T) {
	assert.NoError(t, fserr.ToErrno(nil))
}

func TestToErrno_WrappedNotFound(t *testing.T) {
	err := fmt.Errorf("lookup tag %q: %w", "food", fserr.ErrNotFound)
	assert.Equal(t, fuse.ENOENT, fserr.ToErrno(err))
}

func TestToErrno_Permission(t *testing.T) {
	assert.Equal(t, syscall.EACCES, fserr.ToErrno(fserr.ErrPermission))
}

func TestToErrno_CrossDevice(t *testing.T) {
	assert.Equal(t, syscall.EXDEV, fserr.ToErrno(fserr.ErrCrossDevice))
}

func TestToErrno_UnknownBecomesEIO(t *testing.T) {
	assert.Equal(t, fuse.EIO, fserr.ToErrno(fmt.Errorf("boom")))
}
