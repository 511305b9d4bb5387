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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fathomhq/agentrun/internal/adapter"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/supervisor"
)

// Execute is installed as the scheduler's Executor: it is called once the
// scheduler has reserved a concurrency slot for runID, and returns true if
// the run was actually dispatched (false sends it back to the queue).
func (r *Runner) Execute(ctx context.Context, runID string) bool {
	ctx, span := r.tracer.Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	r.mu.Lock()
	payload, ok := r.pending[runID]
	r.mu.Unlock()
	if !ok {
		r.logger.Error("execute called for run with no cached payload", "run_id", runID)
		return false
	}

	if err := r.store.MarkJobRunning(ctx, runID); err != nil {
		r.logger.Error("failed to mark job running", "run_id", runID, "error", err)
		return false
	}
	if err := r.store.UpdateRunStatus(ctx, runID, model.StatusRunning, nil, ""); err != nil {
		r.logger.Error("failed to mark run running", "run_id", runID, "error", err)
		return false
	}
	r.emit(ctx, runID, "run.started", map[string]any{"provider": string(payload.Provider)})
	r.emit(ctx, runID, "run.progress", map[string]any{"stage": "spawn_preparing"})

	if r.metrics != nil {
		r.metrics.Running.WithLabelValues(string(payload.Provider)).Inc()
	}

	outcome, err := r.executeOnce(ctx, runID, payload)

	if r.metrics != nil {
		r.metrics.Running.WithLabelValues(string(payload.Provider)).Dec()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	r.settle(ctx, runID, payload, outcome, err)
	return true
}

// runOutcome is the terminal disposition of one dispatch attempt, prior to
// the retry decision.
type runOutcome struct {
	status   model.RunStatus
	exitCode *int
	errMsg   string
}

func (r *Runner) executeOnce(ctx context.Context, runID string, payload model.StartRunPayload) (runOutcome, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}

	binaryPath, err := r.resolveBinaryPath(payload.Provider, settings)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}
	snap, err := r.store.GetCapabilitySnapshot(ctx, run.CapabilitySnapshotID)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}
	if len(snap.Profile.DisabledReasons) > 0 {
		for _, reason := range snap.Profile.DisabledReasons {
			_ = r.store.AddCompatibilityWarning(ctx, runID, reason)
			r.emit(ctx, runID, "run.compatibility_warning", map[string]any{"reason": reason})
		}
	}

	adp, err := adapter.ForProvider(payload.Provider)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}
	cmd, err := adp.BuildCommand(&payload, snap.Profile, binaryPath)
	if err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}
	if err := r.policy.ValidateResolvedArgs(payload.Provider, cmd.Args, settings.AllowAdvancedPolicy, snap.Profile.SupportedFlags); err != nil {
		return runOutcome{status: model.StatusFailed, errMsg: err.Error()}, err
	}
	r.emit(ctx, runID, "run.policy_audit", map[string]any{
		"provider":           string(payload.Provider),
		"binary":             binaryPath,
		"flags":              cmd.Args,
		"execution_path":     executionPathFor(payload.Provider, settings),
		"cwd":                payload.Cwd,
		"capability_version": snap.CLIVersion,
	})

	handle := &supervisor.Handle{}
	r.mu.Lock()
	r.handles[runID] = handle
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.handles, runID)
		r.mu.Unlock()
	}()

	onLine := func(stream, line string) {
		redacted, n := r.redactor.Redact(line)
		if n > 0 && r.metrics != nil {
			r.metrics.RedactionsTotal.Add(float64(n))
		}
		eventType := "run.chunk.stdout"
		if stream == "stderr" {
			eventType = "run.chunk.stderr"
		}
		r.emit(ctx, runID, eventType, map[string]any{"text": redacted})
		if r.sessions.IsOpen(runID) {
			r.sessions.RecordChunk(runID, redacted)
		}

		if ev, ok := adp.ParseChunk(stream, redacted); ok {
			r.emit(ctx, runID, "run.progress", map[string]any{"stage": ev.Stage, "structured": ev.Structured})
		}
		if severity, ok := classifyDiagnostic(redacted); ok {
			r.emit(ctx, runID, "run.progress", map[string]any{"stage": "stream_diagnostic", "severity": severity, "text": redacted})
		}
	}

	req := supervisor.ExecRequest{
		Command:        cmd,
		TimeoutSeconds: payload.TimeoutSeconds,
		OnLine:         onLine,
		InitialPrompt:  payload.Prompt,
	}

	var result supervisor.Result
	if payload.Mode == model.ModeInteractive {
		if inputCh, ok := r.sessions.Channel(runID); ok {
			req.Input = inputCh
		}
		result = r.supervisor.ExecuteInteractive(ctx, req, handle)
	} else {
		result = r.supervisor.ExecutePiped(ctx, req, handle)
	}

	if r.sessions.IsOpen(runID) {
		r.sessions.Close(runID)
		r.emit(ctx, runID, "session.closed", map[string]any{})
	}

	exitCode := 0
	if result.ExitCode != nil {
		exitCode = *result.ExitCode
	}
	summary := adp.ParseFinal(exitCode, result.Output.String())
	if _, err := r.store.InsertArtifact(ctx, runID, model.ArtifactParsedSummary, "", map[string]any{
		"text":       summary.Text,
		"structured": summary.Structured,
	}); err != nil {
		r.logger.Error("failed to persist parsed summary artifact", "run_id", runID, "error", err)
	}
	if settings.StoreEncryptedRawArtifacts {
		r.persistRawArtifact(ctx, runID, result.Output.String())
	}
	if payload.Mode == model.ModeInteractive {
		r.persistSessionTranscript(ctx, runID, result.Output.String())
	}

	switch result.Outcome {
	case supervisor.OutcomeCompleted:
		return runOutcome{status: model.StatusCompleted, exitCode: result.ExitCode}, nil
	case supervisor.OutcomeCanceled:
		return runOutcome{status: model.StatusCanceled, exitCode: result.ExitCode, errMsg: "canceled"}, nil
	case supervisor.OutcomeTimedOut:
		return runOutcome{status: model.StatusFailed, exitCode: result.ExitCode, errMsg: "Run timed out"}, result.Err
	default:
		errMsg := "process exited non-zero"
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		return runOutcome{status: model.StatusFailed, exitCode: result.ExitCode, errMsg: errMsg}, result.Err
	}
}

// settle applies the retry policy to a failed non-interactive run, or
// finalizes the run and job as terminal.
func (r *Runner) settle(ctx context.Context, runID string, payload model.StartRunPayload, outcome runOutcome, execErr error) {
	if outcome.status == model.StatusFailed && execErr != nil {
		job, err := r.store.GetQueueJob(ctx, runID)
		if err == nil && shouldRetry(payload.Mode, job.Attempts, job.MaxRetries) {
			delayMS := retryDelayMS(job.RetryBackoffMS, job.Attempts)
			nextRunAt := time.Now().Add(time.Duration(delayMS) * time.Millisecond)
			if err := r.store.MarkJobRetry(ctx, runID, nextRunAt.Format(time.RFC3339Nano), outcome.errMsg); err == nil {
				if err := r.scheduler.Enqueue(runID, payload.Provider, payload.QueuePriority, time.Now(), nextRunAt); err == nil {
					r.emit(ctx, runID, "run.progress", map[string]any{"stage": "retry_scheduled", "delay_ms": delayMS})
					return
				}
			}
		}
	}

	_ = r.store.UpdateRunStatus(ctx, runID, outcome.status, outcome.exitCode, outcome.errMsg)
	_ = r.store.MarkJobFinished(ctx, runID, outcome.status != model.StatusCompleted)

	r.mu.Lock()
	delete(r.pending, runID)
	r.mu.Unlock()

	eventType := "run.completed"
	switch outcome.status {
	case model.StatusFailed:
		eventType = "run.failed"
	case model.StatusCanceled:
		eventType = "run.canceled"
	}
	r.emit(ctx, runID, eventType, map[string]any{"exit_code": outcome.exitCode, "error_summary": outcome.errMsg})

	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(string(payload.Provider), string(outcome.status)).Inc()
		r.metrics.QueueDepth.Set(float64(r.scheduler.Depth()))
	}
}

