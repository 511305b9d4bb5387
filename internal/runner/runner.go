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

// Package runner is the orchestrator façade: it wires the policy engine,
// capability registry, adapters, scheduler, supervisor, and session manager
// together behind Submit/Execute/Rerun/Cancel, and is the only component
// that mutates more than one of those subsystems in a single call.
package runner

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fathomhq/agentrun/internal/adapter"
	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/capability"
	"github.com/fathomhq/agentrun/internal/eventbus"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/policy"
	"github.com/fathomhq/agentrun/internal/redact"
	"github.com/fathomhq/agentrun/internal/scheduler"
	"github.com/fathomhq/agentrun/internal/secretstore"
	"github.com/fathomhq/agentrun/internal/session"
	"github.com/fathomhq/agentrun/internal/store"
	"github.com/fathomhq/agentrun/internal/supervisor"
	"github.com/fathomhq/agentrun/internal/xdgpaths"
)

const tracerName = "agentrun/runner"

// Store is the subset of *store.Store the runner depends on.
type Store interface {
	InsertRun(ctx context.Context, r model.Run) (model.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, exitCode *int, errSummary string) error
	AddCompatibilityWarning(ctx context.Context, id, msg string) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	ListRuns(ctx context.Context, filters store.RunFilters) ([]model.Run, error)
	GetRunDetail(ctx context.Context, id string) (store.RunDetail, error)
	InsertEvent(ctx context.Context, runID, eventType string, payload map[string]any) (model.RunEvent, error)
	InsertArtifact(ctx context.Context, runID string, kind model.ArtifactKind, path string, metadata map[string]any) (model.RunArtifact, error)
	InsertSchedulerJob(ctx context.Context, job model.SchedulerJob) error
	MarkJobRunning(ctx context.Context, runID string) error
	MarkJobRetry(ctx context.Context, runID string, nextRunAt, lastError string) error
	MarkJobFinished(ctx context.Context, runID string, failed bool) error
	GetQueueJob(ctx context.Context, runID string) (model.SchedulerJob, error)
	ListQueueJobs(ctx context.Context) ([]model.SchedulerJob, error)
	InsertCapabilitySnapshot(ctx context.Context, snap model.CapabilitySnapshot) (model.CapabilitySnapshot, error)
	GetCapabilitySnapshot(ctx context.Context, id string) (model.CapabilitySnapshot, error)
	GetProfile(ctx context.Context, id string) (model.Profile, error)
	GetSettings(ctx context.Context) (model.Settings, error)
	ListWorkspaceGrants(ctx context.Context, activeOnly bool) ([]model.WorkspaceGrant, error)
	InsertWorkspaceGrant(ctx context.Context, path, grantedBy string) (model.WorkspaceGrant, error)
	MarkOrphanRunsInterrupted(ctx context.Context) (int, error)
	AttachRun(ctx context.Context, conversationID, runID string) (int64, error)
	ListCapabilitySnapshots(ctx context.Context, provider model.Provider) ([]model.CapabilitySnapshot, error)
	InsertProfile(ctx context.Context, name string, provider model.Provider, config map[string]any) (model.Profile, error)
	ListProfiles(ctx context.Context, provider model.Provider) ([]model.Profile, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error
}

// Runner is the orchestrator façade described above.
type Runner struct {
	store      Store
	scheduler  *scheduler.Scheduler
	supervisor *supervisor.Supervisor
	sessions   *session.Manager
	capability *capability.Registry
	policy     *policy.Engine
	redactor   *redact.Redactor
	bus        *eventbus.Bus
	metrics    *Metrics
	logger     *slog.Logger
	tracer     trace.Tracer

	masterKey    *secretstore.MasterKeyStore
	artifactsDir string
	exportsDir   string

	mu      sync.Mutex
	pending map[string]model.StartRunPayload
	handles map[string]*supervisor.Handle
}

// New constructs a Runner and wires it as the scheduler's executor.
func New(st Store, sched *scheduler.Scheduler, sup *supervisor.Supervisor, sessions *session.Manager, capReg *capability.Registry, bus *eventbus.Bus, metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	artifactsDir, err := xdgpaths.ArtifactsDir()
	if err != nil {
		artifactsDir = os.TempDir()
	}
	exportsDir, err := xdgpaths.ExportsDir()
	if err != nil {
		exportsDir = os.TempDir()
	}
	r := &Runner{
		store:        st,
		scheduler:    sched,
		supervisor:   sup,
		sessions:     sessions,
		capability:   capReg,
		policy:       policy.NewEngine(),
		redactor:     redact.New(false),
		bus:          bus,
		metrics:      metrics,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		masterKey:    secretstore.NewMasterKeyStore(),
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		pending:      make(map[string]model.StartRunPayload),
		handles:      make(map[string]*supervisor.Handle),
	}
	sched.SetExecutor(r.Execute)
	return r
}

// Submit validates and queues a new run, returning its id and, if a session
// was opened, the session id.
func (r *Runner) Submit(ctx context.Context, payload model.StartRunPayload) (runID string, sessionID *string, err error) {
	ctx, span := r.tracer.Start(ctx, "Submit")
	defer span.End()

	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	r.redactor.SetAggressive(settings.RedactAggressive)

	if payload.ProfileID != "" {
		profile, err := r.store.GetProfile(ctx, payload.ProfileID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", nil, err
		}
		if profile.Provider != payload.Provider {
			err := apperr.CLIInvalid("profile %s is for provider %s, not %s", payload.ProfileID, profile.Provider, payload.Provider)
			span.SetStatus(codes.Error, err.Error())
			return "", nil, err
		}
		applyProfile(&payload, profile)
	}

	payload.Prompt = policy.NormalizePrompt(payload.Prompt)

	binaryPath, err := r.resolveBinaryPath(payload.Provider, settings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	snap := r.capability.DetectProfile(ctx, payload.Provider, binaryPath)
	snap, err = r.store.InsertCapabilitySnapshot(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	grants, err := r.store.ListWorkspaceGrants(ctx, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	if err := r.policy.Validate(&payload, settings, grants, snap.Profile); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	adp, err := adapter.ForProvider(payload.Provider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	if err := adp.Validate(&payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	if settings.MaxQueueSize > 0 && r.scheduler.Depth() >= settings.MaxQueueSize {
		err := apperr.CLIInvalid("queue is full")
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	id := uuid.NewString()
	now := time.Now()
	run := model.Run{
		ID:                   id,
		Provider:             payload.Provider,
		Status:               model.StatusQueued,
		Prompt:               payload.Prompt,
		Model:                payload.Model,
		Mode:                 payload.Mode,
		OutputFormat:         payload.OutputFormat,
		Cwd:                  payload.Cwd,
		StartedAt:            now,
		QueuePriority:        payload.QueuePriority,
		ProfileID:            payload.ProfileID,
		CapabilitySnapshotID: snap.ID,
		ConversationID:       payload.ConversationID,
	}
	if _, err := r.store.InsertRun(ctx, run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}
	if payload.ConversationID != "" {
		if _, err := r.store.AttachRun(ctx, payload.ConversationID, id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", nil, err
		}
	}

	nextRunAt := now
	if payload.ScheduledAt != nil && payload.ScheduledAt.After(now) {
		nextRunAt = *payload.ScheduledAt
	}
	job := model.SchedulerJob{
		RunID:          id,
		Priority:       payload.QueuePriority,
		State:          model.JobQueued,
		QueuedAt:       now,
		NextRunAt:      nextRunAt,
		MaxRetries:     payload.MaxRetries,
		RetryBackoffMS: payload.RetryBackoffMS,
	}
	if err := r.store.InsertSchedulerJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	r.mu.Lock()
	r.pending[id] = payload
	r.mu.Unlock()

	if payload.Mode == model.ModeInteractive || payload.CreateSession {
		sid, _ := r.sessions.Open(id)
		sessionID = &sid
	}

	if err := r.scheduler.Enqueue(id, payload.Provider, payload.QueuePriority, now, nextRunAt); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		_ = r.store.UpdateRunStatus(ctx, id, model.StatusFailed, nil, "enqueue failed: "+err.Error())
		_ = r.store.MarkJobFinished(ctx, id, true)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", nil, err
	}

	span.SetAttributes(attribute.String("run_id", id), attribute.String("provider", string(payload.Provider)))
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(r.scheduler.Depth()))
	}
	return id, sessionID, nil
}

// Rerun merges overrides on top of the cached (or reconstructed) payload for
// runID and calls Submit again.
func (r *Runner) Rerun(ctx context.Context, runID string, overrides map[string]any) (string, *string, error) {
	r.mu.Lock()
	payload, ok := r.pending[runID]
	r.mu.Unlock()

	if !ok {
		run, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return "", nil, err
		}
		payload = model.StartRunPayload{
			Provider:       run.Provider,
			Prompt:         run.Prompt,
			Model:          run.Model,
			Mode:           run.Mode,
			OutputFormat:   run.OutputFormat,
			Cwd:            run.Cwd,
			QueuePriority:  run.QueuePriority,
			ProfileID:      run.ProfileID,
			ConversationID: run.ConversationID,
		}
	}

	applyOverrides(&payload, overrides)
	return r.Submit(ctx, payload)
}

// Cancel aborts runID, whether it is still pending or actively executing.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	if r.scheduler.Remove(runID) {
		r.mu.Lock()
		delete(r.pending, runID)
		r.mu.Unlock()

		_ = r.store.UpdateRunStatus(ctx, runID, model.StatusCanceled, nil, "canceled while queued")
		_ = r.store.MarkJobFinished(ctx, runID, true)
		r.emit(ctx, runID, "run.canceled", map[string]any{"queued": true})
		return nil
	}

	r.mu.Lock()
	handle, ok := r.handles[runID]
	r.mu.Unlock()
	if !ok {
		return apperr.NotFound("run %s is not pending or active", runID)
	}
	handle.Cancel()
	return nil
}

func (r *Runner) resolveBinaryPath(provider model.Provider, settings model.Settings) (string, error) {
	configured := configuredBinaryFor(provider, settings)
	return supervisor.ResolveBinary(configured, provider, settings.AllowAdvancedPolicy)
}

func configuredBinaryFor(provider model.Provider, settings model.Settings) string {
	if provider == model.ProviderCodex {
		return settings.CodexPath
	}
	return settings.ClaudePath
}

// executionPathFor classifies how a run's binary was resolved (§4.J): an
// empty or bare-provider-name configuration resolves through PATH as a
// scoped shell alias, while anything else must have already survived
// supervisor.ResolveBinary's absolute-path checks (canonicalized, stem
// matched, executable).
func executionPathFor(provider model.Provider, settings model.Settings) string {
	configured := configuredBinaryFor(provider, settings)
	if configured == "" || configured == string(provider) {
		return "scoped-shell-alias"
	}
	return "verified-absolute-path"
}

// emit persists the event via Store.InsertEvent and publishes it on the bus,
// the single choke point every envelope passes through.
func (r *Runner) emit(ctx context.Context, runID, eventType string, payload map[string]any) {
	ev, err := r.store.InsertEvent(ctx, runID, eventType, payload)
	if err != nil {
		r.logger.Error("failed to persist event", "run_id", runID, "event_type", eventType, "error", err)
		return
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Envelope{
			RunID:     runID,
			Type:      eventType,
			Payload:   payload,
			Timestamp: ev.CreatedAt,
			EventID:   ev.ID,
			Seq:       ev.Seq,
		})
	}
}

func applyOverrides(payload *model.StartRunPayload, overrides map[string]any) {
	if overrides == nil {
		return
	}
	if v, ok := overrides["prompt"].(string); ok {
		payload.Prompt = v
	}
	if v, ok := overrides["model"].(string); ok {
		payload.Model = v
	}
	if v, ok := overrides["cwd"].(string); ok {
		payload.Cwd = v
	}
	if v, ok := overrides["mode"].(string); ok {
		payload.Mode = model.RunMode(v)
	}
	if v, ok := overrides["output_format"].(string); ok {
		payload.OutputFormat = v
	}
	if v, ok := policy.ParseIntFlagValue(overrides["queue_priority"]); ok {
		payload.QueuePriority = v
	}
	if flags, ok := overrides["optional_flags"].(map[string]any); ok {
		if payload.OptionalFlags == nil {
			payload.OptionalFlags = make(map[string]any, len(flags))
		}
		for k, v := range flags {
			payload.OptionalFlags[k] = v
		}
	}
}

// RecoverOrphans is called once at daemon startup, before the scheduler's
// dispatch loop begins, to close out any run left queued or running by a
// prior process that did not shut down cleanly.
func (r *Runner) RecoverOrphans(ctx context.Context) (int, error) {
	return r.store.MarkOrphanRunsInterrupted(ctx)
}
