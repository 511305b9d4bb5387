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

package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSendInputClose(t *testing.T) {
	m := New()
	id, input := m.Open("run-1")
	assert.NotEmpty(t, id)
	assert.True(t, m.IsOpen("run-1"))

	require.NoError(t, m.SendInput("run-1", "hello"))
	assert.Equal(t, "hello", <-input)

	m.Close("run-1")
	assert.False(t, m.IsOpen("run-1"))

	_, open := <-input
	assert.False(t, open)
}

func TestSendInputFailsWhenNoSession(t *testing.T) {
	m := New()
	err := m.SendInput("missing", "hi")
	assert.Error(t, err)
}

func TestSendInputFailsAfterClose(t *testing.T) {
	m := New()
	m.Open("run-1")
	m.Close("run-1")
	err := m.SendInput("run-1", "hi")
	assert.Error(t, err)
}

func TestReplayReturnsInsertionOrderBoundedHistory(t *testing.T) {
	m := New()
	m.Open("run-1")
	for i := 0; i < replayHistoryLimit+10; i++ {
		m.RecordChunk("run-1", fmt.Sprintf("chunk-%d", i))
	}

	replay, err := m.Replay("run-1")
	require.NoError(t, err)
	require.Len(t, replay, replayHistoryLimit)
	assert.Equal(t, "chunk-10", replay[0])
	assert.Equal(t, fmt.Sprintf("chunk-%d", replayHistoryLimit+9), replay[len(replay)-1])
}
