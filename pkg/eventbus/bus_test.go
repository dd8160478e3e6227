// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Relaymesh Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(AgentCreated, func(e Event) {
		received = append(received, e)
	})

	bus.Emit(New(AgentCreated, map[string]any{"agent_id": "a1"}))
	bus.Emit(New(AgentDeleted, map[string]any{"agent_id": "a1"}))

	require.Len(t, received, 1)
	assert.Equal(t, AgentCreated, received[0].Type)
	assert.Equal(t, "a1", received[0].Payload["agent_id"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TaskCreated, func(Event) { count++ })
	bus.Emit(New(TaskCreated, nil))
	bus.Unsubscribe(TaskCreated, id)
	bus.Emit(New(TaskCreated, nil))

	assert.Equal(t, 1, count)
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(MessageSent, func(Event) { panic("boom") })
	delivered := false
	bus.Subscribe(MessageSent, func(Event) { delivered = true })

	bus.Emit(New(MessageSent, nil))
	assert.True(t, delivered)
}

func TestHistoryFilterAndLimit(t *testing.T) {
	bus := NewBus()

	bus.Emit(New(TaskCreated, map[string]any{"n": 1}))
	bus.Emit(New(TaskCompleted, map[string]any{"n": 2}))
	bus.Emit(New(TaskCreated, map[string]any{"n": 3}))

	all := bus.History("", 0)
	assert.Len(t, all, 3)

	created := bus.History(TaskCreated, 0)
	require.Len(t, created, 2)
	assert.Equal(t, 3, created[1].Payload["n"])

	limited := bus.History("", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, TaskCreated, limited[1].Type)

	bus.ClearHistory()
	assert.Empty(t, bus.History("", 0))
}

func TestHistoryRingBound(t *testing.T) {
	bus := NewBus()
	for i := 0; i < defaultMaxHistory+10; i++ {
		bus.Emit(New(RLReward, map[string]any{"n": i}))
	}
	events := bus.History(RLReward, 0)
	require.Len(t, events, defaultMaxHistory)
	assert.Equal(t, 10, events[0].Payload["n"])
}
