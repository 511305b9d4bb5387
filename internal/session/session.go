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

// Package session tracks the at-most-one-per-run interactive input channel
// that lets a caller send further input to a running PTY-attached provider
// process after the initial prompt, and supports replaying recent output on
// resume.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fathomhq/agentrun/internal/apperr"
)

const inputChannelCapacity = 256

// replayHistoryLimit is the number of most recent chunks Resume replays.
const replayHistoryLimit = 50

type session struct {
	id     string
	runID  string
	input  chan string
	closed bool
	// history holds the last replayHistoryLimit chunks, insertion order,
	// for Resume's deterministic replay.
	history []string
}

// Manager tracks live sessions keyed by run id.
type Manager struct {
	mu       sync.Mutex
	byRunID  map[string]*session
}

// New constructs an empty session Manager.
func New() *Manager {
	return &Manager{byRunID: make(map[string]*session)}
}

// Open creates a new session for runID, returning its id and the input
// channel a supervisor goroutine should drain.
func (m *Manager) Open(runID string) (string, <-chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := &session{
		id:    uuid.NewString(),
		runID: runID,
		input: make(chan string, inputChannelCapacity),
	}
	m.byRunID[runID] = sess
	return sess.id, sess.input
}

// SendInput queues text for the session attached to runID. Fails if the
// session is closed or does not exist.
func (m *Manager) SendInput(runID, text string) error {
	m.mu.Lock()
	sess, ok := m.byRunID[runID]
	if !ok || sess.closed {
		m.mu.Unlock()
		return apperr.NotFound("no open session for run %s", runID)
	}
	m.mu.Unlock()

	select {
	case sess.input <- text:
		return nil
	default:
		return apperr.IOFailure(nil, "session input channel for run %s is full", runID)
	}
}

// RecordChunk appends text to the session's replay history, evicting the
// oldest entry once more than replayHistoryLimit have accumulated.
func (m *Manager) RecordChunk(runID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	if !ok {
		return
	}
	sess.history = append(sess.history, text)
	if len(sess.history) > replayHistoryLimit {
		sess.history = sess.history[len(sess.history)-replayHistoryLimit:]
	}
}

// Close drops the session for runID, closing its input channel so the
// supervisor's consuming goroutine observes end-of-input.
func (m *Manager) Close(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	if !ok || sess.closed {
		return
	}
	sess.closed = true
	close(sess.input)
	delete(m.byRunID, runID)
}

// Channel returns the input channel for runID's open session, if any.
func (m *Manager) Channel(runID string) (<-chan string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	if !ok || sess.closed {
		return nil, false
	}
	return sess.input, true
}

// SessionID returns the id of runID's open session, if any.
func (m *Manager) SessionID(runID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	if !ok || sess.closed {
		return "", false
	}
	return sess.id, true
}

// IsOpen reports whether a session is still open for runID.
func (m *Manager) IsOpen(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	return ok && !sess.closed
}

// Replay returns the session's buffered history in insertion order, for the
// deterministic stdout/stderr-interleaving resume policy.
func (m *Manager) Replay(runID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byRunID[runID]
	if !ok {
		return nil, apperr.NotFound("no open session for run %s", runID)
	}
	out := make([]string, len(sess.history))
	copy(out, sess.history)
	return out, nil
}
