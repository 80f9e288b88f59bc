// Copyright 2023 Google Inc. All Rights Reserved.
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

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bryceygordon/MagicFS/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToConfiguredFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "magicfs.log")

	closer, err := Init(cfg.LoggingConfig{
		Severity: cfg.SeverityInfo,
		Format:   "json",
		FilePath: path,
		LogRotate: cfg.LogRotateConfig{
			MaxFileSizeMB: 1,
			BackupFileCnt: 1,
		},
	})
	require.NoError(t, err)
	defer closer.Close()

	Infof("hello %s", "world")

	data, err := readAll(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "\"severity\":\"INFO\"")
}

func TestSeverityToLevel_Off(t *testing.T) {
	assert.Greater(t, int(severityToLevel(cfg.SeverityOff)), int(severityToLevel(cfg.SeverityError)))
}

func readAll(path string) ([]byte, error) {
	return os.ReadFile(path)
}
