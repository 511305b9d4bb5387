// Copyright 2025 Tom Barlow
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

package xdgpaths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDirRespectsEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, appDirName, filepath.Base(dir))
}

func TestDataAndStateDirsAreDistinct(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	cfg, err := ConfigDir()
	require.NoError(t, err)
	data, err := DataDir()
	require.NoError(t, err)
	state, err := StateDir()
	require.NoError(t, err)

	assert.NotEqual(t, cfg, data)
	assert.NotEqual(t, data, state)
}

func TestSettingsPathUnderConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := ConfigDir()
	require.NoError(t, err)

	p, err := SettingsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg, "settings.yaml"), p)
}

func TestStorePathUnderDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	data, err := DataDir()
	require.NoError(t, err)

	p, err := StorePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "state.db"), p)
}

func TestArtifactsAndExportsDirsAreCreated(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	artifacts, err := ArtifactsDir()
	require.NoError(t, err)
	exports, err := ExportsDir()
	require.NoError(t, err)

	assert.NotEqual(t, artifacts, exports)
	assert.DirExists(t, artifacts)
	assert.DirExists(t, exports)
}
