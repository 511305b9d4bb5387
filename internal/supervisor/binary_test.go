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

package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

func TestResolveBinaryRejectsMismatchedAlias(t *testing.T) {
	_, err := ResolveBinary("notcodex", model.ProviderCodex, false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPolicyDenied, apperr.KindOf(err))
}

func TestResolveBinaryRejectsAbsolutePathWithoutAdvancedPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	_, err := ResolveBinary(path, model.ProviderCodex, false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPolicyDenied, apperr.KindOf(err))
}

func TestResolveBinaryAcceptsAbsoluteMatchingExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	resolved, err := ResolveBinary(path, model.ProviderCodex, true)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
}

func TestResolveBinaryRejectsNonExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte("not a script"), 0644))

	_, err := ResolveBinary(path, model.ProviderCodex, true)
	require.Error(t, err)
	assert.Equal(t, apperr.KindPolicyDenied, apperr.KindOf(err))
}

func TestResolveBinaryRejectsWrongStem(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))

	_, err := ResolveBinary(path, model.ProviderCodex, true)
	require.Error(t, err)
}
