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

// Package capability probes provider CLI binaries for their version and
// maps the result onto a compatibility matrix of supported flags and modes,
// so the policy engine can gate a run before ever spawning it for real.
package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fathomhq/agentrun/internal/model"
)

const probeTimeout = 3 * time.Second

// matrixEntry is one version range a provider's CLI is known to support.
type matrixEntry struct {
	min, max       [3]uint64
	flags          []string
	supportsInteractive bool
}

var matrix = map[model.Provider][]matrixEntry{
	model.ProviderCodex: {
		{
			min:   [3]uint64{0, 24, 0},
			max:   [3]uint64{1, 99, 99},
			flags: []string{"model", "json", "output-schema", "output-last-message", "sandbox", "skip-git-repo-check", "ephemeral"},
			supportsInteractive: true,
		},
	},
	model.ProviderClaude: {
		{
			min:   [3]uint64{0, 20, 0},
			max:   [3]uint64{99, 99, 99},
			flags: []string{"output-format", "input-format", "json-schema", "model", "max-budget-usd", "no-session-persistence", "max-turns", "resume", "verbose", "mcp-config", "strict-mcp-config"},
			supportsInteractive: true,
		},
	},
}

// Registry probes and caches provider capability profiles.
type Registry struct {
	limiter *rate.Limiter
	runner  func(ctx context.Context, binaryPath string) (string, error)
}

// NewRegistry constructs a Registry with the default probe throttle
// (burst 2, refill every 500ms) shared across every provider.
func NewRegistry() *Registry {
	return &Registry{
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		runner:  runVersionProbe,
	}
}

// DetectProfile probes binaryPath for its version and resolves a
// CapabilityProfile. It never returns an error: failures become a blocked
// profile so callers can always persist a snapshot.
func (r *Registry) DetectProfile(ctx context.Context, provider model.Provider, binaryPath string) model.CapabilitySnapshot {
	if err := r.limiter.Wait(ctx); err != nil {
		return blockedSnapshot(provider, fmt.Sprintf("capability probe throttled: %v", err))
	}

	stdout, err := r.runner(ctx, binaryPath)
	if err != nil {
		return blockedSnapshot(provider, fmt.Sprintf("Unable to detect CLI version: %v", err))
	}

	version := extractSemver(strings.TrimSpace(stdout))
	parsed := parseVersion(version)

	for _, entry := range matrix[provider] {
		if versionBetween(parsed, entry.min, entry.max) {
			modes := []model.RunMode{model.ModeNonInteractive}
			if entry.supportsInteractive {
				modes = append(modes, model.ModeInteractive)
			}
			return model.CapabilitySnapshot{
				Provider:   provider,
				CLIVersion: version,
				Profile: model.CapabilityProfile{
					Supported:      true,
					SupportedFlags: entry.flags,
					SupportedModes: modes,
				},
				DetectedAt: time.Now(),
			}
		}
	}

	return model.CapabilitySnapshot{
		Provider:   provider,
		CLIVersion: version,
		Profile: model.CapabilityProfile{
			Supported:       false,
			Degraded:        true,
			SupportedModes:  []model.RunMode{model.ModeNonInteractive},
			DisabledReasons: []string{"Detected version is outside tested matrix; advanced and interactive features may be gated"},
		},
		DetectedAt: time.Now(),
	}
}

func blockedSnapshot(provider model.Provider, reason string) model.CapabilitySnapshot {
	return model.CapabilitySnapshot{
		Provider:   provider,
		CLIVersion: "unknown",
		Profile: model.CapabilityProfile{
			Blocked:         true,
			SupportedModes:  []model.RunMode{model.ModeNonInteractive},
			DisabledReasons: []string{reason},
		},
		DetectedAt: time.Now(),
	}
}

func runVersionProbe(ctx context.Context, binaryPath string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, binaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return "", fmt.Errorf("empty --version output")
	}
	return string(out), nil
}

// extractSemver walks s and accumulates the first run of digits and dots.
// If nothing is found, it synthesizes a sentinel so callers always have a
// parseable value.
func extractSemver(s string) string {
	var b strings.Builder
	started := false
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
			started = true
			continue
		}
		if started {
			break
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("0.0.%02d", time.Now().Second())
	}
	return b.String()
}

func parseVersion(v string) [3]uint64 {
	parts := strings.SplitN(v, ".", 3)
	var out [3]uint64
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err == nil {
			out[i] = n
		}
	}
	return out
}

func versionBetween(v, min, max [3]uint64) bool {
	return !versionLess(v, min) && !versionLess(max, v)
}

func versionLess(a, b [3]uint64) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
