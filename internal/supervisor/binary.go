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

package supervisor

import (
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// ResolveBinary implements the normative binary resolution rule: configured
// is either a short alias matching provider (looked up on PATH) or an
// absolute, canonicalized, executable path whose file stem matches provider.
// Absolute paths are rejected unless allowAdvancedPolicy is set.
func ResolveBinary(configured string, provider model.Provider, allowAdvancedPolicy bool) (string, error) {
	if configured == "" {
		configured = string(provider)
	}

	if !filepath.IsAbs(configured) {
		if configured != string(provider) {
			return "", apperr.PolicyDenied("binary alias %q does not match provider %q", configured, provider)
		}
		resolved, err := exec.LookPath(configured)
		if err != nil {
			return "", apperr.NotFound("binary %q not found on PATH", configured)
		}
		return resolved, nil
	}

	if !allowAdvancedPolicy {
		return "", apperr.PolicyDenied("absolute binary paths require allow_advanced_policy")
	}

	abs, err := filepath.Abs(configured)
	if err != nil {
		return "", apperr.CLIInvalid("resolving binary path: %v", err)
	}
	abs = filepath.Clean(abs)

	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)))
	if stem != string(provider) {
		return "", apperr.PolicyDenied("binary path stem %q does not match provider %q", stem, provider)
	}

	if err := checkExecutable(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func checkExecutable(path string) error {
	if runtime.GOOS == "windows" {
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".exe", ".cmd", ".bat":
			return nil
		default:
			return apperr.PolicyDenied("binary path %q must end in .exe, .cmd, or .bat on windows", path)
		}
	}
	return checkExecuteBitPosix(path)
}
