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
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/capability"
	"github.com/fathomhq/agentrun/internal/eventbus"
	"github.com/fathomhq/agentrun/internal/model"
	"github.com/fathomhq/agentrun/internal/scheduler"
	"github.com/fathomhq/agentrun/internal/session"
	"github.com/fathomhq/agentrun/internal/store"
	"github.com/fathomhq/agentrun/internal/supervisor"
)

// installFakeCodex drops a shell script named "codex" on PATH that answers
// --version for the capability probe and otherwise echoes one line so the
// adapter has something to parse.
func installFakeCodex(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary harness is POSIX-only")
	}

	dir := t.TempDir()
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then\n  echo \"codex-cli 1.4.0\"\n  exit 0\nfi\necho \"codex: run complete\"\nexit 0\n"
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newTestRunner(t *testing.T, startDispatch bool) (*Runner, *store.Store, string) {
	t.Helper()
	installFakeCodex(t)

	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cwd := t.TempDir()
	_, err = st.InsertWorkspaceGrant(context.Background(), cwd, "test")
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Limits{GlobalLimit: 2, PerProviderLimit: 2, MaxQueueSize: 100}, nil)
	sup := supervisor.New()
	sessions := session.New()
	capReg := capability.NewRegistry()
	bus := eventbus.New()
	metrics := NewMetrics(prometheus.NewRegistry())

	r := New(st, sched, sup, sessions, capReg, bus, metrics, nil)

	if startDispatch {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go sched.Run(ctx)
	}

	return r, st, cwd
}

func TestSubmitAndExecuteCompletesRun(t *testing.T) {
	r, st, cwd := newTestRunner(t, true)
	ctx := context.Background()

	runID, sessionID, err := r.Submit(ctx, model.StartRunPayload{
		Provider: model.ProviderCodex,
		Prompt:   "say hi",
		Mode:     model.ModeNonInteractive,
		Cwd:      cwd,
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	require.Nil(t, sessionID)

	require.Eventually(t, func() bool {
		run, err := st.GetRun(ctx, runID)
		return err == nil && run.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, run.Status)

	detail, err := st.GetRunDetail(ctx, runID)
	require.NoError(t, err)
	require.NotEmpty(t, detail.Events)
	require.NotEmpty(t, detail.Artifacts)
}

func TestSubmitRejectsWorkspaceWithoutGrant(t *testing.T) {
	r, _, _ := newTestRunner(t, true)
	ctx := context.Background()

	_, _, err := r.Submit(ctx, model.StartRunPayload{
		Provider: model.ProviderCodex,
		Prompt:   "say hi",
		Mode:     model.ModeNonInteractive,
		Cwd:      t.TempDir(),
	})
	require.Error(t, err)
}

func TestCancelQueuedRun(t *testing.T) {
	// Dispatch loop intentionally not started: the run stays queued so
	// Cancel exercises the in-queue removal path deterministically.
	r, st, cwd := newTestRunner(t, false)
	ctx := context.Background()

	runID, _, err := r.Submit(ctx, model.StartRunPayload{
		Provider: model.ProviderCodex,
		Prompt:   "say hi",
		Mode:     model.ModeNonInteractive,
		Cwd:      cwd,
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel(ctx, runID))

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCanceled, run.Status)
}

func TestResumeSessionRejectsNonInteractiveRun(t *testing.T) {
	r, _, cwd := newTestRunner(t, false)
	ctx := context.Background()

	runID, _, err := r.Submit(ctx, model.StartRunPayload{
		Provider: model.ProviderCodex,
		Prompt:   "say hi",
		Mode:     model.ModeNonInteractive,
		Cwd:      cwd,
	})
	require.NoError(t, err)

	_, err = r.ResumeSession(ctx, runID)
	require.Error(t, err)
}

func TestResumeSessionReplaysBufferedChunksForOpenInteractiveSession(t *testing.T) {
	r, _, cwd := newTestRunner(t, false)
	ctx := context.Background()

	runID, sessionID, err := r.Submit(ctx, model.StartRunPayload{
		Provider: model.ProviderCodex,
		Prompt:   "say hi",
		Mode:     model.ModeInteractive,
		Cwd:      cwd,
	})
	require.NoError(t, err)
	require.NotNil(t, sessionID)

	r.sessions.RecordChunk(runID, "hello there")

	lines, err := r.ResumeSession(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, []string{"hello there"}, lines)
}
