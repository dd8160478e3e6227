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

// Package a2a implements the agent-to-agent task protocol: task
// records, their lifecycle state machine, and the JSON-RPC methods
// that drive them.
package a2a

import (
	"time"
)

// TaskStatus is a task lifecycle state.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// canTransition encodes the lifecycle state machine. Terminal states
// admit nothing.
func canTransition(from, to TaskStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// Task is one unit of delegated work between agents.
type Task struct {
	ID          string         `json:"id"`
	Status      TaskStatus     `json:"status"`
	SenderID    string         `json:"sender_id,omitempty"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Priority    int            `json:"priority"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (t *Task) clone() *Task {
	out := *t
	if t.Payload != nil {
		out.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			out.Payload[k] = v
		}
	}
	if t.Result != nil {
		out.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			out.Result[k] = v
		}
	}
	return &out
}
