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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDiagnosticError(t *testing.T) {
	sev, ok := classifyDiagnostic("Error: connection refused")
	assert.True(t, ok)
	assert.Equal(t, "error", sev)

	sev, ok = classifyDiagnostic("fatal: repository not found")
	assert.True(t, ok)
	assert.Equal(t, "error", sev)

	sev, ok = classifyDiagnostic("task failed with error during apply")
	assert.True(t, ok)
	assert.Equal(t, "error", sev)
}

func TestClassifyDiagnosticWarning(t *testing.T) {
	sev, ok := classifyDiagnostic("Warning: deprecated flag")
	assert.True(t, ok)
	assert.Equal(t, "warning", sev)

	sev, ok = classifyDiagnostic("warn: retrying request")
	assert.True(t, ok)
	assert.Equal(t, "warning", sev)
}

func TestClassifyDiagnosticNone(t *testing.T) {
	_, ok := classifyDiagnostic("all tests passed")
	assert.False(t, ok)
}
