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

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := CLIInvalid("bad field %s", "prompt")
	assert.Equal(t, KindCLIInvalid, KindOf(err))
	assert.True(t, Is(err, KindCLIInvalid))
	assert.False(t, Is(err, KindNotFound))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := IOFailure(cause, "writing artifact")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "IO_FAILURE")
}

func TestIsSentinelComparison(t *testing.T) {
	err := PolicyDenied("workspace not granted")
	sentinel := New(KindPolicyDenied, "")
	assert.True(t, errors.Is(err, sentinel))

	other := New(KindNotFound, "")
	assert.False(t, errors.Is(err, other))
}

func TestErrorFormatting(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", NotFound("run %s", "abc123"))
	assert.Equal(t, KindNotFound, KindOf(err))
}
