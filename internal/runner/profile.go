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

package runner

import (
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/policy"
)

// applyProfile null-skip merges profile.Config defaults into payload: a
// payload field left at its zero value is filled from the profile, but any
// field the caller explicitly set wins. OptionalFlags merge key by key, with
// the payload's own keys taking precedence.
func applyProfile(payload *model.StartRunPayload, profile model.Profile) {
	cfg := profile.Config
	if cfg == nil {
		return
	}

	if payload.Model == "" {
		if v, ok := cfg["model"].(string); ok {
			payload.Model = v
		}
	}
	if payload.OutputFormat == "" {
		if v, ok := cfg["output_format"].(string); ok {
			payload.OutputFormat = v
		}
	}
	if payload.Mode == "" {
		if v, ok := cfg["mode"].(string); ok {
			payload.Mode = model.RunMode(v)
		}
	}
	if payload.QueuePriority == 0 {
		if v, ok := policy.ParseIntFlagValue(cfg["queue_priority"]); ok {
			payload.QueuePriority = v
		}
	}
	if payload.TimeoutSeconds == 0 {
		if v, ok := policy.ParseIntFlagValue(cfg["timeout_seconds"]); ok {
			payload.TimeoutSeconds = v
		}
	}
	if payload.MaxRetries == 0 {
		if v, ok := policy.ParseIntFlagValue(cfg["max_retries"]); ok {
			payload.MaxRetries = v
		}
	}
	if payload.RetryBackoffMS == 0 {
		if v, ok := policy.ParseIntFlagValue(cfg["retry_backoff_ms"]); ok {
			payload.RetryBackoffMS = v
		}
	}

	if flagsRaw, ok := cfg["optional_flags"].(map[string]any); ok {
		if payload.OptionalFlags == nil {
			payload.OptionalFlags = make(map[string]any, len(flagsRaw))
		}
		for k, v := range flagsRaw {
			if _, exists := payload.OptionalFlags[k]; !exists {
				payload.OptionalFlags[k] = v
			}
		}
	}
}
