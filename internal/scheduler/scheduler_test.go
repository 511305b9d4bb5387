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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/agentrun/internal/model"
)

func TestEnqueueDedupesAndRejectsWhenFull(t *testing.T) {
	s := New(Limits{GlobalLimit: 1, PerProviderLimit: 1, MaxQueueSize: 1}, nil)

	require.NoError(t, s.Enqueue("run-1", model.ProviderCodex, 0, time.Now(), time.Time{}))
	require.NoError(t, s.Enqueue("run-1", model.ProviderCodex, 0, time.Now(), time.Time{}))
	assert.Equal(t, 1, s.Depth())

	err := s.Enqueue("run-2", model.ProviderCodex, 0, time.Now(), time.Time{})
	assert.Error(t, err)
}

func TestRunRespectsProviderCap(t *testing.T) {
	s := New(Limits{GlobalLimit: 4, PerProviderLimit: 1, MaxQueueSize: 16}, nil)

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	s.SetExecutor(func(ctx context.Context, runID string) bool {
		mu.Lock()
		order = append(order, runID)
		mu.Unlock()
		<-release
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	now := time.Now()
	require.NoError(t, s.Enqueue("run-a", model.ProviderCodex, 0, now, time.Time{}))
	require.NoError(t, s.Enqueue("run-b", model.ProviderCodex, 0, now.Add(time.Millisecond), time.Time{}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, s.Depth())
	close(release)
}

func TestEffectivePriorityAgesOlderEntries(t *testing.T) {
	now := time.Now()
	old := entry{Priority: 0, QueuedAt: now.Add(-30 * time.Second)}
	fresh := entry{Priority: 0, QueuedAt: now}
	assert.Greater(t, effectivePriority(old, now), effectivePriority(fresh, now))
}

func TestRemove(t *testing.T) {
	s := New(Limits{}, nil)
	require.NoError(t, s.Enqueue("run-1", model.ProviderClaude, 0, time.Now(), time.Time{}))
	assert.True(t, s.Remove("run-1"))
	assert.False(t, s.Remove("run-1"))
	assert.Equal(t, 0, s.Depth())
}
