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

package adapter

import (
	"encoding/json"
	"strings"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/policy"
)

// ClaudeAdapter implements Adapter for the claude provider CLI.
type ClaudeAdapter struct{}

func (a *ClaudeAdapter) Provider() model.Provider { return model.ProviderClaude }

func (a *ClaudeAdapter) Validate(payload *model.StartRunPayload) error {
	if strings.TrimSpace(payload.Prompt) == "" {
		return apperr.CLIInvalid("prompt must not be empty")
	}
	return nil
}

func (a *ClaudeAdapter) BuildCommand(payload *model.StartRunPayload, cap model.CapabilityProfile, binaryPath string) (ValidatedCommand, error) {
	if cap.Blocked {
		return ValidatedCommand{}, apperr.CLIInvalid("claude capability is blocked")
	}

	var args []string
	env := map[string]string{}

	if payload.Mode == model.ModeNonInteractive {
		args = append(args, "-p")
		if resumeID, ok := policy.ExtractResumeSessionID(payload.OptionalFlags); ok {
			args = append(args, "--resume", resumeID)
		}
		args = append(args, payload.Prompt)

		if payload.Model != "" {
			args = append(args, "--model", payload.Model)
		}

		args = append(args, "--output-format", "stream-json", "--verbose")

		env["CLAUDE_NON_INTERACTIVE"] = "1"
	} else {
		if payload.Model != "" {
			args = append(args, "--model", payload.Model)
		}
	}

	args, err := appendOptionalFlags(args, payload.OptionalFlags)
	if err != nil {
		return ValidatedCommand{}, err
	}

	return ValidatedCommand{
		Program: binaryPath,
		Args:    args,
		Cwd:     payload.Cwd,
		Env:     buildEnv(env),
	}, nil
}

func (a *ClaudeAdapter) ParseChunk(stream string, rawChunk string) (*SemanticEvent, bool) {
	if obj, ok := parseFirstJSONObject(rawChunk); ok {
		stage, _ := obj["type"].(string)
		if stage == "" {
			stage, _ = obj["event"].(string)
		}
		if stage == "" {
			stage = "json_event"
		}
		return &SemanticEvent{Provider: model.ProviderClaude, Stage: stage, Structured: obj, Raw: rawChunk}, true
	}

	if strings.Contains(rawChunk, `"type"`) && strings.Contains(rawChunk, "progress") {
		return &SemanticEvent{Provider: model.ProviderClaude, Stage: "progress", Raw: rawChunk}, true
	}

	return nil, false
}

func (a *ClaudeAdapter) ParseFinal(exitCode int, buffered string) Summary {
	text := extractClaudeResultText(buffered)
	if text == "" {
		text = lastNonEmptyLine(buffered)
	}

	summary := Summary{Text: text}
	if obj, ok := parseLastJSONObject(buffered); ok {
		summary.Structured = obj
	}
	return summary
}

// extractClaudeResultText scans every line for {"type":"result", "result": ...}
// and keeps the last non-empty match.
func extractClaudeResultText(buffered string) string {
	last := ""
	for _, line := range strings.Split(buffered, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !(strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[")) {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if typ, _ := obj["type"].(string); typ != "result" {
			continue
		}
		result, _ := obj["result"].(string)
		if strings.TrimSpace(result) != "" {
			last = result
		}
	}
	return last
}
