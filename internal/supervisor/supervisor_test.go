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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/adapter"
)

func TestExecutePipedCapturesStdoutLines(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var lines []string

	req := ExecRequest{
		Command: adapter.ValidatedCommand{
			Program: "sh",
			Args:    []string{"-c", "echo hello; echo world 1>&2"},
			Cwd:     ".",
		},
		OnLine: func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, stream+":"+line)
		},
	}

	res := s.ExecutePiped(context.Background(), req, nil)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Contains(t, lines, "stdout:hello")
	assert.Contains(t, lines, "stderr:world")
}

func TestExecutePipedNonZeroExit(t *testing.T) {
	s := New()
	req := ExecRequest{
		Command: adapter.ValidatedCommand{
			Program: "sh",
			Args:    []string{"-c", "exit 3"},
			Cwd:     ".",
		},
	}

	res := s.ExecutePiped(context.Background(), req, nil)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
}

func TestExecutePipedTimeout(t *testing.T) {
	s := New()
	req := ExecRequest{
		Command: adapter.ValidatedCommand{
			Program: "sleep",
			Args:    []string{"60"},
			Cwd:     ".",
		},
		TimeoutSeconds: 1,
	}

	res := s.ExecutePiped(context.Background(), req, nil)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
}

func TestExecutePipedCancelViaHandle(t *testing.T) {
	s := New()
	handle := &Handle{}
	req := ExecRequest{
		Command: adapter.ValidatedCommand{
			Program: "sleep",
			Args:    []string{"60"},
			Cwd:     ".",
		},
	}

	done := make(chan Result, 1)
	go func() {
		done <- s.ExecutePiped(context.Background(), req, handle)
	}()

	handle.Cancel()
	res := <-done
	assert.Equal(t, OutcomeCanceled, res.Outcome)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello", stripANSI("\x1b[31mhello\x1b[0m"))
}

func TestOutputBufferEvictsOldestLines(t *testing.T) {
	buf := NewOutputBuffer()
	for i := 0; i < maxOutputLines+10; i++ {
		buf.Append("line")
	}
	assert.LessOrEqual(t, len(buf.Lines()), maxOutputLines)
}
