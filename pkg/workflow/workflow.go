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

// Package workflow orchestrates multi-step agent flows: sequential
// steps with conditionals, loops, delays, parallel branches, and
// outbound webhooks. Step conditions are CEL expressions over the
// execution context.
package workflow

import (
	"time"
)

// StepType names what a workflow step does.
type StepType string

const (
	StepAgentCall   StepType = "agent_call"
	StepConditional StepType = "conditional"
	StepLoop        StepType = "loop"
	StepDelay       StepType = "delay"
	StepParallel    StepType = "parallel"
	StepWebhook     StepType = "webhook"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepAgentCall, StepConditional, StepLoop, StepDelay, StepParallel, StepWebhook:
		return true
	}
	return false
}

// Step is one node in a workflow definition.
type Step struct {
	ID         string         `json:"id"`
	Type       StepType       `json:"type"`
	AgentID    string         `json:"agent_id,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Condition  string         `json:"condition,omitempty"`
	Then       []Step         `json:"then,omitempty"`
	Else       []Step         `json:"else,omitempty"`
	Body       []Step         `json:"body,omitempty"`
	MaxLoops   int            `json:"max_loops,omitempty"`
	DelayMS    int            `json:"delay_ms,omitempty"`
	Branches   [][]Step       `json:"branches,omitempty"`
	URL        string         `json:"url,omitempty"`
	ResultKey  string         `json:"result_key,omitempty"`
}

// Workflow is a registered step sequence.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExecutionStatus is an execution lifecycle state.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one run of a workflow.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     ExecutionStatus `json:"status"`
	Context    map[string]any  `json:"context"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}
