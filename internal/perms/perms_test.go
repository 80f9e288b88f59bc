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

package perms_test

import (
	"testing"

	"github.com/bryceygordon/MagicFS/internal/perms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PermsTest struct {
	suite.Suite
}

func TestPermsSuite(t *testing.T) {
	suite.Run(t, new(PermsTest))
}

func (t *PermsTest) TestMyUserAndGroupNoError() {
	uid, gid, err := perms.MyUserAndGroup()
	assert.NoError(t.T(), err)

	const unexpected = ^uint32(0)
	assert.NotEqual(t.T(), unexpected, uid)
	assert.NotEqual(t.T(), unexpected, gid)
}

func (t *PermsTest) TestResolveOwnerRespectsOverrides() {
	uid, gid, err := perms.ResolveOwner(false, 1234, 5678)
	assert.NoError(t.T(), err)
	assert.EqualValues(t.T(), 1234, uid)
	assert.EqualValues(t.T(), 5678, gid)
}

func (t *PermsTest) TestChooseWorkerLimitPositive() {
	assert.Greater(t.T(), perms.ChooseWorkerLimit(), 0)
}
