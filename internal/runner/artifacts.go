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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fathomhq/agentrun/internal/cryptutil"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/store"
)

// sanitizeRunID turns a run id into a filesystem-safe path component:
// anything outside [A-Za-z0-9_-] becomes '_', and leading/trailing '_' are
// trimmed; an empty result falls back to "run".
func sanitizeRunID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "run"
	}
	return out
}

// persistRawArtifact encrypts raw and writes it to
// artifacts/<safe_run_id>.enc.json, recording the path in a raw_encrypted
// artifact row. Failures are logged, not propagated: a raw-artifact write
// failure must never fail the run whose summary already succeeded.
func (r *Runner) persistRawArtifact(ctx context.Context, runID, raw string) {
	key, err := r.masterKey.GetOrCreate(cryptutil.GenerateKey)
	if err != nil {
		r.logger.Error("failed to obtain artifact encryption key", "run_id", runID, "error", err)
		return
	}
	cipher, err := cryptutil.New(key)
	if err != nil {
		r.logger.Error("failed to construct artifact cipher", "run_id", runID, "error", err)
		return
	}
	envelopeJSON, err := cipher.SealToJSON([]byte(raw))
	if err != nil {
		r.logger.Error("failed to encrypt raw artifact", "run_id", runID, "error", err)
		return
	}

	path := filepath.Join(r.artifactsDir, sanitizeRunID(runID)+".enc.json")
	if err := os.WriteFile(path, envelopeJSON, 0o600); err != nil {
		r.logger.Error("failed to write raw artifact", "run_id", runID, "path", path, "error", err)
		return
	}

	if _, err := r.store.InsertArtifact(ctx, runID, model.ArtifactRawEncrypted, path, map[string]any{
		"alg": cryptutil.Algorithm,
	}); err != nil {
		r.logger.Error("failed to persist raw artifact row", "run_id", runID, "error", err)
	}
}

// persistSessionTranscript writes the plaintext PTY transcript of an
// interactive run to artifacts/<safe_run_id>-session.txt.
func (r *Runner) persistSessionTranscript(ctx context.Context, runID, transcript string) {
	path := filepath.Join(r.artifactsDir, sanitizeRunID(runID)+"-session.txt")
	if err := os.WriteFile(path, []byte(transcript), 0o600); err != nil {
		r.logger.Error("failed to write session transcript", "run_id", runID, "path", path, "error", err)
		return
	}
	if _, err := r.store.InsertArtifact(ctx, runID, model.ArtifactSessionTranscript, path, nil); err != nil {
		r.logger.Error("failed to persist session transcript row", "run_id", runID, "error", err)
	}
}

// ExportRun renders runID's prompt, summary, and transcript in the
// requested format and writes it to exports/<safe_run_id>.<format>,
// returning the written path. When jqQuery is non-empty (§4.D.1), the run
// plus its events are marshaled to JSON, piped through gojq, and the
// transformed JSON replaces the default per-format projection.
func (r *Runner) ExportRun(ctx context.Context, runID, format, jqQuery string) (string, error) {
	switch format {
	case "md", "json", "txt":
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}

	detail, err := r.store.GetRunDetail(ctx, runID)
	if err != nil {
		return "", err
	}

	var body string
	if jqQuery != "" {
		filtered, err := applyJQFilter(ctx, jqQuery, detail)
		if err != nil {
			return "", fmt.Errorf("applying jq filter: %w", err)
		}
		data, err := json.MarshalIndent(filtered, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling jq-filtered export: %w", err)
		}
		body = string(data)
	} else {
		switch format {
		case "json":
			body = exportJSON(detail)
		case "md":
			body = exportMarkdown(detail)
		default:
			body = exportText(detail)
		}
	}

	path := filepath.Join(r.exportsDir, sanitizeRunID(runID)+"."+format)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// runSummary extracts the text of the most recent parsed_summary artifact,
// if any.
func runSummary(detail store.RunDetail) string {
	for i := len(detail.Artifacts) - 1; i >= 0; i-- {
		a := detail.Artifacts[i]
		if a.Kind != model.ArtifactParsedSummary {
			continue
		}
		if text, ok := a.Metadata["text"].(string); ok {
			return text
		}
	}
	return ""
}

func exportText(detail store.RunDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", detail.Run.ID)
	fmt.Fprintf(&b, "Provider: %s\n", detail.Run.Provider)
	fmt.Fprintf(&b, "Status: %s\n", detail.Run.Status)
	fmt.Fprintf(&b, "Prompt: %s\n\n", detail.Run.Prompt)
	fmt.Fprintf(&b, "Summary:\n%s\n", runSummary(detail))
	return b.String()
}

func exportMarkdown(detail store.RunDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", detail.Run.ID)
	fmt.Fprintf(&b, "- **Provider**: %s\n", detail.Run.Provider)
	fmt.Fprintf(&b, "- **Status**: %s\n", detail.Run.Status)
	fmt.Fprintf(&b, "- **Started**: %s\n\n", detail.Run.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Fprintf(&b, "## Prompt\n\n%s\n\n", detail.Run.Prompt)
	fmt.Fprintf(&b, "## Summary\n\n%s\n", runSummary(detail))
	return b.String()
}

func exportJSON(detail store.RunDetail) string {
	payload := map[string]any{
		"run_id":   detail.Run.ID,
		"provider": detail.Run.Provider,
		"status":   detail.Run.Status,
		"prompt":   detail.Run.Prompt,
		"summary":  runSummary(detail),
		"events":   len(detail.Events),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
