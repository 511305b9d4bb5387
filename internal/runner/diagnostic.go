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

import "strings"

// classifyDiagnostic scans a redacted line for a diagnostic prefix or
// substring, returning the severity to report and ok=true if one was found.
func classifyDiagnostic(line string) (severity string, ok bool) {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "error:"), strings.HasPrefix(lower, "fatal:"), strings.Contains(lower, " error"):
		return "error", true
	case strings.HasPrefix(lower, "warning:"), strings.HasPrefix(lower, "warn:"), strings.Contains(lower, " warn"):
		return "warning", true
	default:
		return "", false
	}
}
