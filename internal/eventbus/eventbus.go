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

// Package eventbus is the in-process fan-out bus the daemon's SSE endpoint
// and any in-process listeners subscribe to. Every envelope the runner
// produces is published here under the single channel name "run_event".
package eventbus

import (
	"sync"
	"time"
)

// Envelope is the wire shape of every event the core emits.
type Envelope struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	EventID   string         `json:"event_id"`
	Seq       int64          `json:"seq"`
}

const subscriberBuffer = 256

// Bus fans out Envelopes to any number of subscribers. A slow subscriber
// never blocks Publish or other subscribers: its channel is bounded and
// overflow is dropped, since §6 treats the bus as best-effort live-tail
// (durable history always lives in the store).
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Envelope
	next int
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Envelope)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. runIDFilter, if non-empty, restricts delivery to
// that run id only.
func (b *Bus) Subscribe(runIDFilter string) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Envelope, subscriberBuffer)
	if runIDFilter == "" {
		b.subs[id] = ch
	} else {
		filtered := make(chan Envelope, subscriberBuffer)
		b.subs[id] = filtered
		go func() {
			for env := range filtered {
				if env.RunID == runIDFilter {
					select {
					case ch <- env:
					default:
					}
				}
			}
			close(ch)
		}()
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			close(sub)
			delete(b.subs, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans env out to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking.
func (b *Bus) Publish(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
}
