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

package cfg

import (
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load decodes viper's merged flag/env/file state into cfg, starting from
// Default() so unset keys keep their spec-mandated defaults.
func Load(v *viper.Viper) (*Config, error) {
	c := Default()

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	// Config's fields carry yaml tags with dashed names (e.g.
	// "model-path"); decode by those tags so the dashed viper keys match.
	useYAMLTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }

	if err := v.Unmarshal(c, viper.DecodeHook(decodeHook), useYAMLTags); err != nil {
		return nil, err
	}

	c.Logging.Severity = LogSeverity(strings.ToUpper(string(c.Logging.Severity)))

	return c, nil
}

// NewViper returns a viper instance configured for MAGICFS_-prefixed
// environment variables and dash-to-underscore key translation, matching
// the teacher's environment binding convention.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MAGICFS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}
