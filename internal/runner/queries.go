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

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/eventbus"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/store"
	"github.com/fathomhq/agentrun/internal/util"
)

// GetRun returns a single run by id.
func (r *Runner) GetRun(ctx context.Context, id string) (model.Run, error) {
	return r.store.GetRun(ctx, id)
}

// GetRunDetail returns a run with its ordered events and artifacts.
func (r *Runner) GetRunDetail(ctx context.Context, id string) (store.RunDetail, error) {
	return r.store.GetRunDetail(ctx, id)
}

// ListRuns lists runs matching filters. When jqQuery is non-empty (§4.D.1),
// the matched runs are marshaled to JSON, piped through gojq, and the
// transformed result replaces the default []model.Run projection.
func (r *Runner) ListRuns(ctx context.Context, filters store.RunFilters, jqQuery string) (any, error) {
	runs, err := r.store.ListRuns(ctx, filters)
	if err != nil {
		return nil, err
	}
	if jqQuery == "" {
		return runs, nil
	}
	return applyJQFilter(ctx, jqQuery, runs)
}

// ListQueueJobs returns every scheduler job, for queue inspection.
func (r *Runner) ListQueueJobs(ctx context.Context) ([]model.SchedulerJob, error) {
	return r.store.ListQueueJobs(ctx)
}

// SendSessionInput forwards text to the live PTY session attached to runID.
func (r *Runner) SendSessionInput(runID, text string) error {
	return r.sessions.SendInput(runID, text)
}

// ResumeSession implements resume_session (§4.I): it is only permitted for an
// interactive run whose recorded capability snapshot still supports
// Interactive mode and whose session is still open. On success it emits the
// session_resumed / session_replay_ready progress envelopes around the
// replay and returns the buffered chunks in deterministic insertion order.
func (r *Runner) ResumeSession(ctx context.Context, runID string) ([]string, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Mode != model.ModeInteractive {
		return nil, apperr.CLIInvalid("run %s is not interactive", runID)
	}
	if run.CapabilitySnapshotID != "" {
		snap, err := r.store.GetCapabilitySnapshot(ctx, run.CapabilitySnapshotID)
		if err != nil {
			return nil, err
		}
		if !util.Contains(snap.Profile.SupportedModes, model.ModeInteractive) {
			return nil, apperr.CLIInvalid("run %s's capability snapshot no longer supports interactive mode", runID)
		}
	}
	sessionID, ok := r.sessions.SessionID(runID)
	if !ok {
		return nil, apperr.NotFound("no open session for run %s", runID)
	}

	lines, err := r.sessions.Replay(runID)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, runID, "run.progress", map[string]any{
		"stage":       "session_resumed",
		"sessionId":   sessionID,
		"replayLines": len(lines),
	})
	r.emit(ctx, runID, "run.progress", map[string]any{"stage": "session_replay_ready"})

	return lines, nil
}

// ReplaySession returns the buffered output history for runID's session
// without performing resume eligibility checks or emitting progress events.
func (r *Runner) ReplaySession(runID string) ([]string, error) {
	return r.sessions.Replay(runID)
}

// EndSession closes the interactive session attached to runID without
// canceling the underlying run.
func (r *Runner) EndSession(runID string) {
	r.sessions.Close(runID)
}

// Subscribe exposes the event bus for the daemon's SSE endpoint.
func (r *Runner) Subscribe(runIDFilter string) (<-chan eventbus.Envelope, func()) {
	return r.bus.Subscribe(runIDFilter)
}
