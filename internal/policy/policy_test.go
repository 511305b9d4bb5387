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

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

func basePayload() *model.StartRunPayload {
	return &model.StartRunPayload{
		Provider:      model.ProviderCodex,
		Prompt:        "hello",
		Cwd:           "/workspace/project",
		Mode:          model.ModeNonInteractive,
		QueuePriority: 0,
	}
}

func baseGrants() []model.WorkspaceGrant {
	return []model.WorkspaceGrant{{Path: "/workspace"}}
}

func supportedCap() model.CapabilityProfile {
	return model.CapabilityProfile{
		Supported:      true,
		SupportedFlags: []string{"model", "json"},
		SupportedModes: []model.RunMode{model.ModeNonInteractive, model.ModeInteractive},
	}
}

func TestValidateHappyPath(t *testing.T) {
	e := NewEngine()
	err := e.Validate(basePayload(), model.DefaultSettings(), baseGrants(), supportedCap())
	require.NoError(t, err)
}

func TestValidateRejectsUngrantedWorkspace(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.Cwd = "/etc/elsewhere"
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPolicyDenied))
}

func TestValidateRejectsBlockedGlob(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.Cwd = "/workspace/project/.ssh/id_rsa_dir"
	settings := model.DefaultSettings()
	settings.BlockedPathGlobs = []string{"**/.ssh/**"}
	err := e.Validate(p, settings, baseGrants(), supportedCap())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPolicyDenied))
}

func TestValidateRejectsOutOfRangePriority(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.QueuePriority = 99
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCLIInvalid))
}

func TestValidateAdvancedFlagRequiresAllowAdvanced(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.OptionalFlags = map[string]any{"mcp-config": "foo.json"}
	cap := supportedCap()
	cap.SupportedFlags = append(cap.SupportedFlags, "mcp-config")

	err := e.Validate(p, model.DefaultSettings(), baseGrants(), cap)
	require.Error(t, err)

	settings := model.DefaultSettings()
	settings.AllowAdvancedPolicy = true
	err = e.Validate(p, settings, baseGrants(), cap)
	require.NoError(t, err)
}

func TestValidateUnknownFlagRejected(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.OptionalFlags = map[string]any{"not-a-real-flag": true}
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.Error(t, err)
}

func TestValidateInternalFlagsSkipped(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.OptionalFlags = map[string]any{"__resume_session_id": "abc"}
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.NoError(t, err)
}

func TestValidateBlockedCapability(t *testing.T) {
	e := NewEngine()
	cap := model.CapabilityProfile{Blocked: true, DisabledReasons: []string{"boom"}}
	err := e.Validate(basePayload(), model.DefaultSettings(), baseGrants(), cap)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPolicyDenied))
}

func TestValidateResolvedArgsRejectsNullByte(t *testing.T) {
	e := NewEngine()
	err := e.ValidateResolvedArgs(model.ProviderCodex, []string{"exec", "hello\x00world"}, false, []string{"model"})
	require.Error(t, err)
}

func TestValidateResolvedArgsAllowsClaudeDashP(t *testing.T) {
	e := NewEngine()
	err := e.ValidateResolvedArgs(model.ProviderClaude, []string{"-p", "hello"}, false, []string{"output-format"})
	require.NoError(t, err)
}

func TestValidateResolvedArgsRejectsOtherShortFlags(t *testing.T) {
	e := NewEngine()
	err := e.ValidateResolvedArgs(model.ProviderCodex, []string{"-x"}, false, []string{"model"})
	require.Error(t, err)
}

func TestExtractResumeSessionIDTrims(t *testing.T) {
	id, ok := ExtractResumeSessionID(map[string]any{"__resume_session_id": "  abc  "})
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = ExtractResumeSessionID(map[string]any{"__resume_session_id": "   "})
	assert.False(t, ok)
}

func TestValidateHarnessRejectsAutoApproveFullAccess(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.Harness = &model.HarnessConfig{
		AutoApprove: true,
		SandboxMode: model.SandboxModeFullAccess,
		CLIAllowlist: &model.CLIAllowlist{
			Entries: []model.CLIAllowlistEntry{{Name: "codex", Path: "/usr/bin/codex"}},
		},
	}
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.Error(t, err)
}

func TestValidateHarnessAllowsAbsentCLIAllowlist(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.Harness = &model.HarnessConfig{
		ShellPrelude: &model.ShellPrelude{Content: "export FOO=bar"},
	}
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.NoError(t, err)
}

func TestValidateHarnessRejectsBlankAllowlistEntryWhenPresent(t *testing.T) {
	e := NewEngine()
	p := basePayload()
	p.Harness = &model.HarnessConfig{
		CLIAllowlist: &model.CLIAllowlist{
			Entries: []model.CLIAllowlistEntry{{Name: "", Path: "/usr/bin/codex"}},
		},
	}
	err := e.Validate(p, model.DefaultSettings(), baseGrants(), supportedCap())
	require.Error(t, err)
}
