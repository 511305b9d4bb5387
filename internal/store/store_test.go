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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertTestRun(t *testing.T, s *Store, prompt string) model.Run {
	t.Helper()
	r, err := s.InsertRun(context.Background(), model.Run{
		Provider:  model.ProviderClaude,
		Mode:      model.ModeNonInteractive,
		Prompt:    prompt,
		Cwd:       "/work",
		StartedAt: time.Now(),
	})
	require.NoError(t, err)
	return r
}

func TestInsertRunDefaultsStatusQueued(t *testing.T) {
	s := newTestStore(t)
	r := insertTestRun(t, s, "hello")
	assert.Equal(t, model.StatusQueued, r.Status)
	assert.Nil(t, r.EndedAt)

	got, err := s.GetRun(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "hello", got.Prompt)
}

func TestUpdateRunStatusTerminalStampsEndedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := insertTestRun(t, s, "hi")

	require.NoError(t, s.UpdateRunStatus(ctx, r.ID, model.StatusRunning, nil, ""))
	running, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, running.EndedAt, "non-terminal status must leave ended_at null")

	code := 0
	require.NoError(t, s.UpdateRunStatus(ctx, r.ID, model.StatusCompleted, &code, ""))
	done, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, done.EndedAt, "terminal status must stamp ended_at")
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)
}

func TestAddCompatibilityWarningDedups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := insertTestRun(t, s, "hi")

	require.NoError(t, s.AddCompatibilityWarning(ctx, r.ID, "flag X is degraded"))
	require.NoError(t, s.AddCompatibilityWarning(ctx, r.ID, "flag X is degraded"))
	require.NoError(t, s.AddCompatibilityWarning(ctx, r.ID, "flag Y is degraded"))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"flag X is degraded", "flag Y is degraded"}, got.CompatibilityWarnings)
}

func TestInsertEventSeqIsDenseAndIncreasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := insertTestRun(t, s, "hi")

	const n = 5
	for i := 0; i < n; i++ {
		ev, err := s.InsertEvent(ctx, r.ID, "run.progress", map[string]any{"i": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	detail, err := s.GetRunDetail(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, detail.Events, n)
	for i, ev := range detail.Events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must be 1..n without gaps")
	}
}

func TestInsertEventSeqIsPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := insertTestRun(t, s, "a")
	b := insertTestRun(t, s, "b")

	ev1, err := s.InsertEvent(ctx, a.ID, "run.started", nil)
	require.NoError(t, err)
	ev2, err := s.InsertEvent(ctx, b.ID, "run.started", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), ev1.Seq)
	assert.Equal(t, int64(1), ev2.Seq, "seq restarts per run_id")
}

func TestGetRunDetailOrdersEventsAndArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := insertTestRun(t, s, "hi")

	for i := 0; i < 3; i++ {
		_, err := s.InsertEvent(ctx, r.ID, "run.chunk.stdout", map[string]any{"i": i})
		require.NoError(t, err)
	}
	_, err := s.InsertArtifact(ctx, r.ID, model.ArtifactParsedSummary, "", map[string]any{"summary": "ok"})
	require.NoError(t, err)

	detail, err := s.GetRunDetail(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, detail.Events, 3)
	require.Len(t, detail.Artifacts, 1)
	for i := 1; i < len(detail.Events); i++ {
		assert.Less(t, detail.Events[i-1].Seq, detail.Events[i].Seq)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListRunsFiltersByProviderStatusAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := s.InsertRun(ctx, model.Run{
			Provider: model.ProviderCodex, Mode: model.ModeNonInteractive,
			Prompt: "codex", Cwd: "/work", StartedAt: time.Now(),
		})
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, s.UpdateRunStatus(ctx, r.ID, model.StatusCompleted, intPtr(0), ""))
		}
	}
	insertTestRun(t, s, "claude run")

	codexRuns, err := s.ListRuns(ctx, RunFilters{Provider: model.ProviderCodex})
	require.NoError(t, err)
	assert.Len(t, codexRuns, 3)

	completed, err := s.ListRuns(ctx, RunFilters{Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	limited, err := s.ListRuns(ctx, RunFilters{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func intPtr(i int) *int { return &i }

func TestSchedulerJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := insertTestRun(t, s, "hi")

	job := model.SchedulerJob{
		RunID: r.ID, Priority: 0, QueuedAt: time.Now(), NextRunAt: time.Now(),
		MaxRetries: 3, RetryBackoffMS: 200,
	}
	require.NoError(t, s.InsertSchedulerJob(ctx, job))

	got, err := s.GetQueueJob(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, got.State)
	assert.Equal(t, 0, got.Attempts)

	require.NoError(t, s.MarkJobRunning(ctx, r.ID))
	got, err = s.GetQueueJob(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, got.State)
	assert.Equal(t, 1, got.Attempts)

	// MarkJobRunning again should fail: it requires state=queued.
	err = s.MarkJobRunning(ctx, r.ID)
	require.Error(t, err)

	nextRunAt := time.Now().Add(time.Second).UTC().Format(time.RFC3339Nano)
	require.NoError(t, s.MarkJobRetry(ctx, r.ID, nextRunAt, "exit code 1"))
	got, err = s.GetQueueJob(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, got.State)
	assert.Equal(t, "exit code 1", got.LastError)
	assert.Nil(t, got.StartedAt)

	require.NoError(t, s.MarkJobRunning(ctx, r.ID))
	require.NoError(t, s.MarkJobFinished(ctx, r.ID, false))
	got, err = s.GetQueueJob(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.State)
	assert.NotNil(t, got.FinishedAt)
}

func TestMarkOrphanRunsInterrupted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queuedRun := insertTestRun(t, s, "q")
	runningRun := insertTestRun(t, s, "r")
	require.NoError(t, s.UpdateRunStatus(ctx, runningRun.ID, model.StatusRunning, nil, ""))
	completedRun := insertTestRun(t, s, "c")
	require.NoError(t, s.UpdateRunStatus(ctx, completedRun.ID, model.StatusCompleted, intPtr(0), ""))

	require.NoError(t, s.InsertSchedulerJob(ctx, model.SchedulerJob{
		RunID: queuedRun.ID, QueuedAt: time.Now(), NextRunAt: time.Now(),
	}))
	require.NoError(t, s.InsertSchedulerJob(ctx, model.SchedulerJob{
		RunID: runningRun.ID, QueuedAt: time.Now(), NextRunAt: time.Now(),
	}))
	require.NoError(t, s.MarkJobRunning(ctx, runningRun.ID))

	n, err := s.MarkOrphanRunsInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both the queued and running run are orphans")

	q, err := s.GetRun(ctx, queuedRun.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, q.Status)
	assert.Equal(t, "Application restarted during run", q.ErrorSummary)
	require.NotNil(t, q.EndedAt)

	r2, err := s.GetRun(ctx, runningRun.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInterrupted, r2.Status)

	c, err := s.GetRun(ctx, completedRun.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, c.Status, "already-terminal runs are untouched")

	qJob, err := s.GetQueueJob(ctx, queuedRun.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, qJob.State)
	rJob, err := s.GetQueueJob(ctx, runningRun.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, rJob.State)
}

func TestWorkspaceGrantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g, err := s.InsertWorkspaceGrant(ctx, "/home/user/projects", "admin")
	require.NoError(t, err)
	assert.Nil(t, g.RevokedAt)

	active, err := s.ListWorkspaceGrants(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.RevokeWorkspaceGrant(ctx, g.ID))
	active, err = s.ListWorkspaceGrants(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 0)

	all, err := s.ListWorkspaceGrants(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = s.RevokeWorkspaceGrant(ctx, g.ID)
	require.Error(t, err, "revoking an already-revoked grant is an error")
}

func TestCapabilitySnapshotsCappedAt32(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var lastID string
	for i := 0; i < 40; i++ {
		snap, err := s.InsertCapabilitySnapshot(ctx, model.CapabilitySnapshot{
			Provider:   model.ProviderCodex,
			CLIVersion: "1.0.0",
			DetectedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
		lastID = snap.ID
	}

	list, err := s.ListCapabilitySnapshots(ctx, model.ProviderCodex)
	require.NoError(t, err)
	assert.Len(t, list, 32)
	assert.Equal(t, lastID, list[0].ID, "newest snapshot first")
}

func TestConversationAttachRunAllocatesDenseSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, model.ProviderClaude, "thread")
	require.NoError(t, err)

	r1 := insertTestRun(t, s, "first")
	r2 := insertTestRun(t, s, "second")

	seq1, err := s.AttachRun(ctx, c.ID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := s.AttachRun(ctx, c.ID, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	got1, err := s.GetRun(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got1.ConversationID)
}

func TestBackfillConversationsCreatesOnePerOrphanRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := insertTestRun(t, s, "What is the weather like today?\nsecond line")
	r2 := insertTestRun(t, s, "")

	require.NoError(t, s.RunRepairAndBackfill(ctx))

	got1, err := s.GetRun(ctx, r1.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got1.ConversationID)

	got2, err := s.GetRun(ctx, r2.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got2.ConversationID)
	assert.NotEqual(t, got1.ConversationID, got2.ConversationID, "one conversation per orphan run")

	convs, err := s.ListConversations(ctx, false)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	titles := map[string]bool{}
	for _, c := range convs {
		titles[c.Title] = true
	}
	assert.True(t, titles["What is the weather like today?"])
	assert.True(t, titles["New chat"])

	// Running it again must not create duplicate conversations (sentinel key).
	require.NoError(t, s.RunRepairAndBackfill(ctx))
	convs, err = s.ListConversations(ctx, false)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestRepairNullsDanglingConversationLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Run the one-time backfill first, with nothing to backfill, so the
	// later repair pass doesn't re-assign a fresh conversation to the run
	// whose link we're about to null out.
	require.NoError(t, s.RunRepairAndBackfill(ctx))

	c, err := s.CreateConversation(ctx, model.ProviderClaude, "thread")
	require.NoError(t, err)
	r := insertTestRun(t, s, "hi")
	_, err = s.AttachRun(ctx, c.ID, r.ID)
	require.NoError(t, err)

	// Simulate the conversation being deleted out from under the run.
	_, err = s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, c.ID)
	require.NoError(t, err)

	require.NoError(t, s.RunRepairAndBackfill(ctx))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ConversationID, "dangling conversation_id must be nulled out")
}

func TestRepairInsertsMissingConversationRunsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.CreateConversation(ctx, model.ProviderClaude, "thread")
	require.NoError(t, err)
	r := insertTestRun(t, s, "hi")

	// Point the run at the conversation directly, bypassing AttachRun, to
	// simulate a crash between the two writes.
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET conversation_id = ? WHERE id = ?`, c.ID, r.ID)
	require.NoError(t, err)

	require.NoError(t, s.RunRepairAndBackfill(ctx))

	var seq int64
	err = s.db.QueryRowContext(ctx, `SELECT seq FROM conversation_runs WHERE run_id = ?`, r.ID).Scan(&seq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestProfileInsertUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.InsertProfile(ctx, "default-claude", model.ProviderClaude, map[string]any{"model": "sonnet"})
	require.NoError(t, err)

	got, err := s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "default-claude", got.Name)
	assert.Equal(t, "sonnet", got.Config["model"])

	require.NoError(t, s.UpdateProfile(ctx, p.ID, "renamed", map[string]any{"model": "opus"}))
	got, err = s.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "opus", got.Config["model"])

	list, err := s.ListProfiles(ctx, model.ProviderClaude)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteProfile(ctx, p.ID))
	_, err = s.GetProfile(ctx, p.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSettingsRoundTripDefaultsWhenUnset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), got)

	got.RetentionDays = 7
	got.AllowAdvancedPolicy = true
	require.NoError(t, s.UpdateSettings(ctx, got))

	reloaded, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.RetentionDays)
	assert.True(t, reloaded.AllowAdvancedPolicy)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
	require.NoError(t, s.migrate(context.Background()))
}

func TestPruneDeletesOnlyTerminalRunsPastRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := insertTestRun(t, s, "old")
	require.NoError(t, s.UpdateRunStatus(ctx, old.ID, model.StatusCompleted, intPtr(0), ""))
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET started_at = ? WHERE id = ?`,
		formatTime(time.Now().AddDate(0, 0, -60)), old.ID)
	require.NoError(t, err)

	recent := insertTestRun(t, s, "recent")
	require.NoError(t, s.UpdateRunStatus(ctx, recent.ID, model.StatusCompleted, intPtr(0), ""))

	stillRunning := insertTestRun(t, s, "still-running")
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET started_at = ? WHERE id = ?`,
		formatTime(time.Now().AddDate(0, 0, -60)), stillRunning.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, stillRunning.ID, model.StatusRunning, nil, ""))

	settings := model.DefaultSettings()
	settings.RetentionDays = 30
	settings.MaxStorageMB = 0 // disable the size-based pass for this assertion

	deleted, err := s.Prune(ctx, settings)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetRun(ctx, old.ID)
	assert.Error(t, err, "old terminal run is pruned")

	_, err = s.GetRun(ctx, recent.ID)
	assert.NoError(t, err, "recent terminal run is kept")

	_, err = s.GetRun(ctx, stillRunning.ID)
	assert.NoError(t, err, "non-terminal runs are never pruned regardless of age")
}
