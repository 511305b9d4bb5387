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

// Package adapter translates a provider-neutral StartRunPayload into the
// exact argv and environment a given agent CLI expects, and translates that
// CLI's streamed output back into semantic events. Each provider (codex,
// claude) implements the same small interface so the scheduler and runner
// never branch on provider identity themselves.
package adapter

import (
	"fmt"
	"strings"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// ValidatedCommand is a fully resolved child-process invocation.
type ValidatedCommand struct {
	Program string
	Args    []string
	Cwd     string
	Env     []string
}

// SemanticEvent is the structured interpretation of one line of streamed output.
type SemanticEvent struct {
	Provider   model.Provider
	Stage      string
	Structured map[string]any
	Raw        string
}

// Summary is the adapter's interpretation of a run's buffered output at exit.
type Summary struct {
	Text       string
	Structured map[string]any
}

// Adapter is implemented once per provider.
type Adapter interface {
	Provider() model.Provider
	Validate(payload *model.StartRunPayload) error
	BuildCommand(payload *model.StartRunPayload, cap model.CapabilityProfile, binaryPath string) (ValidatedCommand, error)
	ParseChunk(stream string, rawChunk string) (*SemanticEvent, bool)
	ParseFinal(exitCode int, buffered string) Summary
}

// ForProvider returns the Adapter implementation for p.
func ForProvider(p model.Provider) (Adapter, error) {
	switch p {
	case model.ProviderCodex:
		return &CodexAdapter{}, nil
	case model.ProviderClaude:
		return &ClaudeAdapter{}, nil
	default:
		return nil, apperr.CLIInvalid("unknown provider %q", p)
	}
}

// appendOptionalFlags type-dispatches each optional flag: bool true -> bare
// --k, bool false -> omitted, number/string -> --k v, else error.
func appendOptionalFlags(args []string, flags map[string]any) ([]string, error) {
	for key, raw := range flags {
		if strings.HasPrefix(key, "__") {
			continue
		}
		switch v := raw.(type) {
		case bool:
			if v {
				args = append(args, "--"+key)
			}
		case string:
			args = append(args, "--"+key, v)
		case int:
			args = append(args, "--"+key, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, "--"+key, fmt.Sprintf("%g", v))
		default:
			return nil, apperr.CLIInvalid("optional flag %q has unsupported value type", key)
		}
	}
	return args, nil
}

func buildEnv(extra map[string]string) []string {
	env := make([]string, 0, len(extra))
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// lastNonEmptyLine returns the last line in text with non-whitespace content.
func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
