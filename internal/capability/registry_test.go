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

package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/model"
)

func TestExtractSemver(t *testing.T) {
	assert.Equal(t, "1.2.3", extractSemver("codex-cli 1.2.3 (build abc)"))
	assert.Equal(t, "0.24.0", extractSemver("0.24.0"))
}

func TestDetectProfileSupported(t *testing.T) {
	r := NewRegistry()
	r.runner = func(ctx context.Context, path string) (string, error) {
		return "1.0.0\n", nil
	}

	snap := r.DetectProfile(context.Background(), model.ProviderCodex, "/usr/bin/codex")
	require.True(t, snap.Profile.Supported)
	assert.False(t, snap.Profile.Blocked)
	assert.Contains(t, snap.Profile.SupportedFlags, "json")
	assert.Contains(t, snap.Profile.SupportedModes, model.ModeInteractive)
}

func TestDetectProfileOutsideMatrix(t *testing.T) {
	r := NewRegistry()
	r.runner = func(ctx context.Context, path string) (string, error) {
		return "5.0.0\n", nil
	}

	snap := r.DetectProfile(context.Background(), model.ProviderCodex, "/usr/bin/codex")
	assert.False(t, snap.Profile.Supported)
	assert.True(t, snap.Profile.Degraded)
	assert.False(t, snap.Profile.Blocked)
}

func TestDetectProfileProbeFailure(t *testing.T) {
	r := NewRegistry()
	r.runner = func(ctx context.Context, path string) (string, error) {
		return "", errors.New("exec: not found")
	}

	snap := r.DetectProfile(context.Background(), model.ProviderClaude, "/usr/bin/claude")
	assert.True(t, snap.Profile.Blocked)
	assert.Equal(t, "unknown", snap.CLIVersion)
	assert.Equal(t, []model.RunMode{model.ModeNonInteractive}, snap.Profile.SupportedModes)
}
