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

// Package redact scrubs secrets from streamed run output before it is
// persisted or emitted to the host event bus. It mirrors the span-level
// Redactor's mode/pattern shape used elsewhere in this codebase, but its
// contract is a pure (content, count) function suited to line-by-line
// stream processing rather than span attributes.
package redact

import (
	"regexp"
	"strings"
)

// Pattern pairs a compiled regex with its redaction template.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement func(match []string) string
}

// standardPatterns are compiled once at package init.
var standardPatterns = []Pattern{
	{
		Name:  "named_secret",
		Regex: regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*["']?([A-Za-z0-9_\-.]{6,})["']?`),
		Replacement: func(m []string) string {
			return strings.ToLower(m[1]) + "=[REDACTED]"
		},
	},
	{
		Name:  "sk_token",
		Regex: regexp.MustCompile(`\b(sk-[A-Za-z0-9]{20,})\b`),
		Replacement: func(m []string) string {
			return "[REDACTED]"
		},
	},
	{
		Name:  "aws_access_key",
		Regex: regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
		Replacement: func(m []string) string {
			return "[REDACTED]"
		},
	},
	{
		Name:  "hex_blob",
		Regex: regexp.MustCompile(`\b([A-Fa-f0-9]{32,})\b`),
		Replacement: func(m []string) string {
			return "[REDACTED]"
		},
	},
}

const longTokenThreshold = 48

var longTokenChars = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Redactor scrubs secrets from text, optionally in an aggressive mode that
// also collapses any standalone long opaque token regardless of pattern.
type Redactor struct {
	aggressive bool
}

// New constructs a Redactor. aggressive enables the whitespace-token pass.
func New(aggressive bool) *Redactor {
	return &Redactor{aggressive: aggressive}
}

// SetAggressive toggles aggressive mode at runtime (settings can change it
// without restarting the daemon).
func (r *Redactor) SetAggressive(aggressive bool) {
	r.aggressive = aggressive
}

// Redact scrubs input, returning the redacted content and the number of
// individual redactions performed. It is pure: calling it twice with the
// same input returns the same result.
func (r *Redactor) Redact(input string) (string, int) {
	if input == "" {
		return "", 0
	}

	count := 0
	content := input

	if r.aggressive {
		tokens := strings.Fields(content)
		for i, tok := range tokens {
			if len(tok) > longTokenThreshold && longTokenChars.MatchString(tok) {
				tokens[i] = "[REDACTED_LONG_TOKEN]"
				count++
			}
		}
		content = strings.Join(tokens, " ")
	}

	for _, p := range standardPatterns {
		matches := p.Regex.FindAllStringSubmatch(content, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		content = p.Regex.ReplaceAllStringFunc(content, func(full string) string {
			m := p.Regex.FindStringSubmatch(full)
			return p.Replacement(m)
		})
	}

	return content, count
}
