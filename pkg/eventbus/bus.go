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

// Package eventbus provides the in-process publish/subscribe bus that
// ties Relaymesh components together. Subscribers must be non-blocking;
// long-running reactions spawn their own goroutines. The bus retains a
// bounded history ring of recent events for inspection.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	AgentCreated Type = "agent.created"
	AgentUpdated Type = "agent.updated"
	AgentDeleted Type = "agent.deleted"

	MessageSent      Type = "message.sent"
	MessageReceived  Type = "message.received"
	MessageProcessed Type = "message.processed"

	TaskCreated   Type = "task.created"
	TaskCompleted Type = "task.completed"
	TaskFailed    Type = "task.failed"

	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"

	HITLApprovalRequired Type = "hitl.approval_required"
	HITLApproved         Type = "hitl.approved"
	HITLRejected         Type = "hitl.rejected"

	RLReward       Type = "rl.reward"
	RLModelUpdated Type = "rl.model_updated"
	FRLAggregation Type = "frl.aggregation"

	ManifestUpdated Type = "manifest.updated"
)

// AllTypes lists every declared event type.
func AllTypes() []Type {
	return []Type{
		AgentCreated, AgentUpdated, AgentDeleted,
		MessageSent, MessageReceived, MessageProcessed,
		TaskCreated, TaskCompleted, TaskFailed,
		WorkflowStarted, WorkflowCompleted,
		HITLApprovalRequired, HITLApproved, HITLRejected,
		RLReward, RLModelUpdated, FRLAggregation,
		ManifestUpdated,
	}
}

// Event is an observational record of something that happened.
type Event struct {
	Type          Type           `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// New creates an event of the given type with a payload.
func New(t Type, payload map[string]any) Event {
	if payload == nil {
		payload = make(map[string]any)
	}
	return Event{Type: t, Payload: payload, Timestamp: time.Now()}
}

// Handler receives emitted events. Handlers must not block.
type Handler func(Event)

const defaultMaxHistory = 1000

type subscription struct {
	id      int
	handler Handler
}

// Bus is the in-process pub/sub event bus.
type Bus struct {
	mu         sync.RWMutex
	subs       map[Type][]subscription
	nextSubID  int
	history    []Event
	maxHistory int
}

// NewBus creates a bus with the default history bound.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[Type][]subscription),
		maxHistory: defaultMaxHistory,
	}
}

// Subscribe registers a handler for the given event type and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(t Type, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	b.subs[t] = append(b.subs[t], subscription{id: b.nextSubID, handler: h})
	return b.nextSubID
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(t Type, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every subscriber of its type and records
// it in the history ring. A panicking subscriber is logged and skipped;
// the bus itself never blocks on a subscriber.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, e)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	subs := make([]subscription, len(b.subs[e.Type]))
	copy(subs, b.subs[e.Type])
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(sub.handler, e)
	}
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event_type", e.Type, "panic", r)
		}
	}()
	h(e)
}

// History returns up to limit recent events, optionally filtered by
// type (empty type matches all). Most recent events come last.
func (b *Bus) History(t Type, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var events []Event
	for _, e := range b.history {
		if t == "" || e.Type == t {
			events = append(events, e)
		}
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// ClearHistory drops all retained events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
