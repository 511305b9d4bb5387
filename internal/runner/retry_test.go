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

	"github.com/fathomhq/agentrun/internal/model"
)

func TestRetryDelayMSExponentialBackoff(t *testing.T) {
	assert.Equal(t, int64(1000), retryDelayMS(1000, 1))
	assert.Equal(t, int64(2000), retryDelayMS(1000, 2))
	assert.Equal(t, int64(4000), retryDelayMS(1000, 3))
}

func TestRetryDelayMSFloorsAtMinimum(t *testing.T) {
	assert.Equal(t, int64(minRetryDelayMS), retryDelayMS(10, 1))
}

func TestRetryDelayMSSaturatesOnOverflow(t *testing.T) {
	delay := retryDelayMS(1<<40, 40)
	assert.Greater(t, delay, int64(0))
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(model.ModeNonInteractive, 1, 3))
	assert.True(t, shouldRetry(model.ModeNonInteractive, 3, 3))
	assert.False(t, shouldRetry(model.ModeNonInteractive, 4, 3))
	assert.False(t, shouldRetry(model.ModeNonInteractive, 1, 0))
	assert.False(t, shouldRetry(model.ModeInteractive, 1, 3))
}
