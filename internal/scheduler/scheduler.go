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

// Package scheduler implements an in-memory priority queue, backed by
// durable SchedulerJob rows in the store, that dispatches queued runs under
// a global and a per-provider concurrency cap while aging older entries to
// prevent starvation.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fathomhq/agentrun/internal/apperr"
	"github.com/fathomhq/agentrun/internal/model"
)

// Executor runs a dispatched run to completion. It returns true if the run
// reached a terminal outcome, false if a retry was re-enqueued instead.
type Executor func(ctx context.Context, runID string) bool

// entry is one pending item in the in-memory queue.
type entry struct {
	RunID     string
	Provider  model.Provider
	Priority  int
	QueuedAt  time.Time
	NotBefore time.Time
}

// Limits bounds the scheduler's concurrency and queue size.
type Limits struct {
	GlobalLimit      int
	PerProviderLimit int
	MaxQueueSize     int
}

// Scheduler owns the in-memory pending queue and dispatches work to an
// Executor under the configured concurrency caps. All mutable state is
// guarded by mu; dispatch runs on a single goroutine started by Run.
type Scheduler struct {
	mu     sync.Mutex
	queue  []entry
	limits Limits

	runningGlobal   int
	runningProvider map[model.Provider]int

	notify chan struct{}
	logger *slog.Logger

	executor Executor
}

// New constructs a Scheduler. SetExecutor must be called before Run.
func New(limits Limits, logger *slog.Logger) *Scheduler {
	if limits.GlobalLimit <= 0 {
		limits.GlobalLimit = 2
	}
	if limits.PerProviderLimit <= 0 {
		limits.PerProviderLimit = 1
	}
	if limits.MaxQueueSize <= 0 {
		limits.MaxQueueSize = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		limits:          limits,
		runningProvider: make(map[model.Provider]int),
		notify:          make(chan struct{}, 1),
		logger:          logger,
	}
}

// SetExecutor injects the callback used to run dispatched work. Must be
// called once, before Run.
func (s *Scheduler) SetExecutor(exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executor = exec
}

// SetLimits updates the concurrency caps, e.g. after a settings change.
func (s *Scheduler) SetLimits(limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limits.GlobalLimit > 0 {
		s.limits.GlobalLimit = limits.GlobalLimit
	}
	if limits.PerProviderLimit > 0 {
		s.limits.PerProviderLimit = limits.PerProviderLimit
	}
	if limits.MaxQueueSize > 0 {
		s.limits.MaxQueueSize = limits.MaxQueueSize
	}
	s.wake()
}

// Enqueue adds run_id to the pending queue. Enqueueing an already-queued
// run_id is a no-op success. Returns apperr.CLIInvalid if the queue is full.
func (s *Scheduler) Enqueue(runID string, provider model.Provider, priority int, queuedAt, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.queue {
		if e.RunID == runID {
			return nil
		}
	}
	if len(s.queue) >= s.limits.MaxQueueSize {
		return apperr.CLIInvalid("queue is full (%d entries)", s.limits.MaxQueueSize)
	}

	s.queue = append(s.queue, entry{
		RunID:     runID,
		Provider:  provider,
		Priority:  priority,
		QueuedAt:  queuedAt,
		NotBefore: notBefore,
	})
	s.wake()
	return nil
}

// Remove drops run_id from the pending queue if present, e.g. for a cancel
// of a run that has not yet been dispatched. Reports whether it was found.
func (s *Scheduler) Remove(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.queue {
		if e.RunID == runID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the number of pending (not yet dispatched) entries.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the current global and per-provider in-flight counts.
func (s *Scheduler) Running() (global int, perProvider map[model.Provider]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Provider]int, len(s.runningProvider))
	for k, v := range s.runningProvider {
		out[k] = v
	}
	return s.runningGlobal, out
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

const agingWindow = 15 * time.Second

func effectivePriority(e entry, now time.Time) int {
	age := now.Sub(e.QueuedAt)
	if age < 0 {
		age = 0
	}
	return e.Priority*100 + int(age/agingWindow)
}

// Run starts the dispatch loop and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-timer.C:
		}

		for {
			dispatched, nextWake := s.tryDispatchOne(ctx)
			if !dispatched {
				if nextWake != nil {
					resetTimer(timer, time.Until(*nextWake))
				}
				break
			}
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// tryDispatchOne picks and spawns at most one runnable entry. It returns
// dispatched=true if it did, or a nextWake time to retry at if entries exist
// but none are runnable yet (not_before in the future) or all are blocked on
// provider caps.
func (s *Scheduler) tryDispatchOne(ctx context.Context) (dispatched bool, nextWake *time.Time) {
	s.mu.Lock()

	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false, nil
	}

	now := time.Now()
	runnable := make([]int, 0, len(s.queue))
	var earliestNotBefore *time.Time
	for i, e := range s.queue {
		if e.NotBefore.After(now) {
			if earliestNotBefore == nil || e.NotBefore.Before(*earliestNotBefore) {
				nb := e.NotBefore
				earliestNotBefore = &nb
			}
			continue
		}
		runnable = append(runnable, i)
	}
	if len(runnable) == 0 {
		s.mu.Unlock()
		return false, earliestNotBefore
	}

	sort.Slice(runnable, func(a, b int) bool {
		ea, eb := s.queue[runnable[a]], s.queue[runnable[b]]
		pa, pb := effectivePriority(ea, now), effectivePriority(eb, now)
		if pa != pb {
			return pa > pb
		}
		return ea.QueuedAt.Before(eb.QueuedAt)
	})

	blocked := 0
	for _, idx := range runnable {
		e := s.queue[idx]
		if s.runningGlobal >= s.limits.GlobalLimit {
			s.mu.Unlock()
			return false, nil
		}
		if s.runningProvider[e.Provider] >= s.limits.PerProviderLimit {
			blocked++
			if blocked >= len(s.queue) {
				s.mu.Unlock()
				return false, nil
			}
			continue
		}

		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.runningGlobal++
		s.runningProvider[e.Provider]++
		executor := s.executor
		s.mu.Unlock()

		go s.dispatch(ctx, e, executor)
		return true, nil
	}

	s.mu.Unlock()
	return false, nil
}

func (s *Scheduler) dispatch(ctx context.Context, e entry, executor Executor) {
	defer func() {
		s.mu.Lock()
		s.runningGlobal--
		s.runningProvider[e.Provider]--
		s.mu.Unlock()
		s.wake()
	}()

	if executor == nil {
		s.logger.Error("scheduler dispatched with no executor set", "run_id", e.RunID)
		return
	}

	terminal := executor(ctx, e.RunID)
	if !terminal {
		s.logger.Warn("run re-queued for retry", "run_id", e.RunID, "provider", e.Provider)
	}
}
