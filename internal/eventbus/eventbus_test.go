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

package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe("")
	ch2, unsub2 := b.Subscribe("")
	defer unsub1()
	defer unsub2()

	b.Publish(Envelope{RunID: "run-1", Type: "run.started", Timestamp: time.Now()})

	select {
	case env := <-ch1:
		assert.Equal(t, "run.started", env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on subscriber 1")
	}
	select {
	case env := <-ch2:
		assert.Equal(t, "run.started", env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on subscriber 2")
	}
}

func TestSubscribeFilterByRunID(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("run-1")
	defer unsub()

	b.Publish(Envelope{RunID: "run-2", Type: "run.started"})
	b.Publish(Envelope{RunID: "run-1", Type: "run.completed"})

	select {
	case env := <-ch:
		require.Equal(t, "run-1", env.RunID)
		assert.Equal(t, "run.completed", env.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("")
	unsub()

	_, open := <-ch
	assert.False(t, open)
}
