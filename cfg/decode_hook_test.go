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
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookTarget struct {
	Mode Octal         `mapstructure:"mode"`
	Hash HashAlgorithm  `mapstructure:"hash"`
	Sev  LogSeverity    `mapstructure:"sev"`
	Role DiskRole       `mapstructure:"role"`
}

func decodeInto(t *testing.T, input map[string]interface{}) hookTarget {
	t.Helper()
	var out hookTarget
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeHook(),
		Result:     &out,
	})
	require.NoError(t, err)
	require.NoError(t, dec.Decode(input))
	return out
}

func TestDecodeHook_Octal(t *testing.T) {
	out := decodeInto(t, map[string]interface{}{"mode": "644"})
	assert.Equal(t, Octal(0o644), out.Mode)
}

func TestDecodeHook_HashAlgorithm(t *testing.T) {
	out := decodeInto(t, map[string]interface{}{"hash": "METRO"})
	assert.Equal(t, HashMetro, out.Hash)
}

func TestDecodeHook_HashAlgorithm_Invalid(t *testing.T) {
	var out hookTarget
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{DecodeHook: DecodeHook(), Result: &out})
	require.NoError(t, err)
	assert.Error(t, dec.Decode(map[string]interface{}{"hash": "sha256"}))
}

func TestDecodeHook_LogSeverity(t *testing.T) {
	out := decodeInto(t, map[string]interface{}{"sev": "warning"})
	assert.Equal(t, WarningLogSeverity, out.Sev)
}

func TestDecodeHook_DiskRole(t *testing.T) {
	out := decodeInto(t, map[string]interface{}{"role": "PARITY"})
	assert.Equal(t, DiskRoleParity, out.Role)
}
