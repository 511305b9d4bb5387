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

// Package policy validates a submitted run against workspace grants,
// runtime bounds, harness configuration, and the flag allowlist intersected
// with the detected capability profile, both before and after the adapter
// resolves the final argv.
package policy

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

const (
	MinQueuePriority = -10
	MaxQueuePriority = 10

	MinTimeoutSeconds = 5
	MaxTimeoutSeconds = 10_800

	MaxRetriesAllowed = 10

	MinRetryBackoffMS = 100
	MaxRetryBackoffMS = 600_000

	minHarnessTimeoutMS = 5_000
	maxHarnessTimeoutMS = 10_800_000
	maxToolResultLines  = 20_000
)

var codexBaseFlags = stringSet(
	"model", "json", "reasoning-effort", "output-schema", "output-last-message",
	"ask-for-approval", "sandbox", "search", "add-dir", "image", "config",
	"skip-git-repo-check", "ephemeral",
)

var claudeBaseFlags = stringSet(
	"output-format", "input-format", "json-schema", "model", "fallback-model",
	"max-budget-usd", "no-session-persistence", "max-turns", "tools", "allowedTools",
	"permission-mode", "system-prompt", "append-system-prompt", "include-partial-messages",
	"continue", "agent", "agents", "resume", "verbose",
)

var advancedFlags = stringSet("mcp-config", "strict-mcp-config", "dangerously-skip-permissions")

func stringSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func baseFlagsFor(provider model.Provider) map[string]struct{} {
	if provider == model.ProviderClaude {
		return claudeBaseFlags
	}
	return codexBaseFlags
}

// Engine validates submissions and resolved argv against policy.
type Engine struct{}

// NewEngine constructs a policy Engine.
func NewEngine() *Engine { return &Engine{} }

// Validate runs the full pre-flight check before a run is admitted: workspace
// grant, blocked-path globs, capability support, and resolved-arg policy.
func (e *Engine) Validate(payload *model.StartRunPayload, settings model.Settings, grants []model.WorkspaceGrant, cap model.CapabilityProfile) error {
	if err := e.validateWorkspace(payload.Cwd, grants, settings.BlockedPathGlobs); err != nil {
		return err
	}
	if err := e.validateRuntimeBounds(payload); err != nil {
		return err
	}
	if payload.Harness != nil {
		if err := e.validateHarness(payload.Harness); err != nil {
			return err
		}
	}
	for key := range payload.OptionalFlags {
		if isInternalFlag(key) {
			continue
		}
		if err := e.validateFlagKey(payload.Provider, key, settings.AllowAdvancedPolicy, cap.SupportedFlags); err != nil {
			return err
		}
	}
	if cap.Blocked {
		return apperr.PolicyDenied("provider capability blocked: %s", strings.Join(cap.DisabledReasons, "; "))
	}
	if !cap.Supported && !settings.AllowAdvancedPolicy {
		return apperr.PolicyDenied("provider capability unsupported and advanced policy not allowed")
	}
	if !containsMode(cap.SupportedModes, payload.Mode) {
		return apperr.PolicyDenied("mode %s not supported by detected capability", payload.Mode)
	}
	return nil
}

// ValidateResolvedArgs re-audits the literal argv produced by an adapter
// right before spawn, guarding against adapter bugs or injected values.
func (e *Engine) ValidateResolvedArgs(provider model.Provider, argv []string, allowAdvanced bool, supportedFlags []string) error {
	for _, arg := range argv {
		for _, r := range arg {
			if r == 0 {
				return apperr.CLIInvalid("argument contains a null byte")
			}
			if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
				return apperr.CLIInvalid("argument contains a disallowed control character")
			}
		}

		switch {
		case strings.HasPrefix(arg, "--"):
			key := strings.TrimPrefix(arg, "--")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				key = key[:eq]
			}
			if err := e.validateFlagKey(provider, key, allowAdvanced, supportedFlags); err != nil {
				return err
			}
		case strings.HasPrefix(arg, "-") && arg != "-":
			if !(provider == model.ProviderClaude && arg == "-p") {
				return apperr.CLIInvalid("short flag %q is not permitted", arg)
			}
		}
	}
	return nil
}

func (e *Engine) validateFlagKey(provider model.Provider, key string, allowAdvanced bool, supportedFlags []string) error {
	base := baseFlagsFor(provider)
	_, isBase := base[key]
	_, isAdvanced := advancedFlags[key]

	if isAdvanced && !allowAdvanced {
		return apperr.CLIInvalid("flag %q requires advanced policy", key)
	}
	if !isBase && !isAdvanced {
		return apperr.CLIInvalid("flag %q is not recognized for provider %s", key, provider)
	}

	if len(supportedFlags) > 0 {
		if !containsString(supportedFlags, key) {
			return apperr.CLIInvalid("flag %q is not supported by the detected capability profile", key)
		}
		return nil
	}

	if !allowAdvanced {
		return apperr.CLIInvalid("flag %q rejected: capability map unavailable", key)
	}
	return nil
}

func (e *Engine) validateWorkspace(cwd string, grants []model.WorkspaceGrant, blockedGlobs []string) error {
	if !filepath.IsAbs(cwd) {
		return apperr.PolicyDenied("workspace path must be absolute: %s", cwd)
	}
	canon, err := filepath.Abs(filepath.Clean(cwd))
	if err != nil {
		return apperr.PolicyDenied("workspace path cannot be resolved: %s", cwd)
	}

	for _, pattern := range blockedGlobs {
		if ok, _ := doublestar.Match(pattern, canon); ok {
			return apperr.PolicyDenied("workspace path matches blocked pattern %q", pattern)
		}
	}

	for _, g := range grants {
		if g.RevokedAt != nil {
			continue
		}
		grantPath, err := filepath.Abs(filepath.Clean(g.Path))
		if err != nil {
			continue
		}
		if canon == grantPath || strings.HasPrefix(canon, grantPath+string(filepath.Separator)) {
			return nil
		}
	}
	return apperr.PolicyDenied("workspace %s is not covered by any active grant", cwd)
}

func (e *Engine) validateRuntimeBounds(p *model.StartRunPayload) error {
	if p.QueuePriority < MinQueuePriority || p.QueuePriority > MaxQueuePriority {
		return apperr.CLIInvalid("queue_priority out of range [%d, %d]", MinQueuePriority, MaxQueuePriority)
	}
	if p.TimeoutSeconds != 0 && (p.TimeoutSeconds < MinTimeoutSeconds || p.TimeoutSeconds > MaxTimeoutSeconds) {
		return apperr.CLIInvalid("timeout_seconds out of range [%d, %d]", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	if p.MaxRetries > MaxRetriesAllowed {
		return apperr.CLIInvalid("max_retries exceeds %d", MaxRetriesAllowed)
	}
	if p.RetryBackoffMS != 0 && (p.RetryBackoffMS < MinRetryBackoffMS || p.RetryBackoffMS > MaxRetryBackoffMS) {
		return apperr.CLIInvalid("retry_backoff_ms out of range [%d, %d]", MinRetryBackoffMS, MaxRetryBackoffMS)
	}
	if p.Harness != nil && p.Harness.Limits != nil {
		lim := p.Harness.Limits
		if lim.TimeoutMS != 0 && (lim.TimeoutMS < minHarnessTimeoutMS || lim.TimeoutMS > maxHarnessTimeoutMS) {
			return apperr.CLIInvalid("harness timeout_ms out of range [%d, %d]", minHarnessTimeoutMS, maxHarnessTimeoutMS)
		}
		if lim.MaxToolResultLines > maxToolResultLines {
			return apperr.CLIInvalid("harness max_tool_result_lines exceeds %d", maxToolResultLines)
		}
	}
	return nil
}

func (e *Engine) validateHarness(h *model.HarnessConfig) error {
	if h.AutoApprove && h.SandboxMode == model.SandboxModeFullAccess {
		return apperr.PolicyDenied("auto_approve cannot be combined with full_access sandbox mode")
	}
	// cli_allowlist is optional: a harness block that only sets permissions
	// or shell_prelude skips allowlist validation entirely, matching the
	// original's Option<CliAllowlist> gating.
	if h.CLIAllowlist != nil {
		for _, entry := range h.CLIAllowlist.Entries {
			if strings.TrimSpace(entry.Name) == "" || strings.TrimSpace(entry.Path) == "" {
				return apperr.PolicyDenied("cli_allowlist entries require a non-blank name and path")
			}
		}
		if h.CLIAllowlist.Mode == "wrapper" && strings.TrimSpace(h.CLIAllowlist.WrapperName) == "" {
			return apperr.PolicyDenied("wrapper mode requires a non-blank wrapper_name")
		}
	}
	if h.ShellPrelude != nil && strings.TrimSpace(h.ShellPrelude.Content) == "" {
		return apperr.PolicyDenied("shell_prelude content must be non-blank")
	}
	return nil
}

// NormalizePrompt applies Unicode NFC normalization so visually identical
// prompts can't diverge under byte-wise comparison.
func NormalizePrompt(s string) string {
	return norm.NFC.String(s)
}

func isInternalFlag(key string) bool {
	return strings.HasPrefix(key, "__")
}

func containsString(haystack []string, needle string) bool {
	needle = strings.TrimPrefix(needle, "--")
	for _, s := range haystack {
		if strings.TrimPrefix(s, "--") == needle {
			return true
		}
	}
	return false
}

func containsMode(modes []model.RunMode, mode model.RunMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// ExtractResumeSessionID trims the hint and reports whether it is usable.
func ExtractResumeSessionID(optionalFlags map[string]any) (string, bool) {
	raw, ok := optionalFlags["__resume_session_id"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ParseIntFlagValue converts a policy-bound numeric flag value from any to int.
func ParseIntFlagValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
