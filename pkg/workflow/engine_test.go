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

package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/manifest"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

func newTestWorkflowEngine(t *testing.T, bus *eventbus.Bus) *Engine {
	t.Helper()
	agents := agent.NewRegistry(0, nil, nil)
	_, err := agents.Register(agent.Agent{ID: "worker", Name: "worker", Capabilities: []string{"translate"}})
	require.NoError(t, err)

	manifests, err := manifest.NewService(storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, err = manifests.CreateOrReplace(manifest.Manifest{AgentID: "worker", Capabilities: []string{"translate"}})
	require.NoError(t, err)

	router := routing.NewMessageRouter(agents, routing.NewCostAwareSelector(manifests), nil, nil)
	engine, err := NewEngine(router, storage.NewMemoryStore(), bus, nil)
	require.NoError(t, err)
	return engine
}

func TestRegisterValidates(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	_, err := e.Register(Workflow{Name: ""})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = e.Register(Workflow{Name: "empty"})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = e.Register(Workflow{
		Name:  "bad step",
		Steps: []Step{{ID: "s1", Type: "teleport"}},
	})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	w, err := e.Register(Workflow{
		Name:  "ok",
		Steps: []Step{{ID: "s1", Type: StepAgentCall, AgentID: "worker"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
}

func TestExecuteAgentCall(t *testing.T) {
	bus := eventbus.NewBus()
	e := newTestWorkflowEngine(t, bus)

	var started, completed int
	bus.Subscribe(eventbus.WorkflowStarted, func(eventbus.Event) { started++ })
	bus.Subscribe(eventbus.WorkflowCompleted, func(eventbus.Event) { completed++ })

	w, err := e.Register(Workflow{
		Name: "call",
		Steps: []Step{
			{ID: "s1", Type: StepAgentCall, AgentID: "worker", ResultKey: "call1"},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Contains(t, exec.Context, "call1")
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, completed)
}

func TestExecuteConditional(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "branch",
		Steps: []Step{
			{
				ID:        "s1",
				Type:      StepConditional,
				Condition: `context["tier"] == "gold"`,
				Then:      []Step{{ID: "t", Type: StepAgentCall, AgentID: "worker", ResultKey: "then_ran"}},
				Else:      []Step{{ID: "e", Type: StepAgentCall, AgentID: "worker", ResultKey: "else_ran"}},
			},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	assert.Contains(t, exec.Context, "then_ran")
	assert.NotContains(t, exec.Context, "else_ran")

	exec, err = e.Execute(context.Background(), w.ID, map[string]any{"tier": "free"})
	require.NoError(t, err)
	assert.Contains(t, exec.Context, "else_ran")
}

func TestExecuteBadCondition(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "broken",
		Steps: []Step{
			{ID: "s1", Type: StepConditional, Condition: `context[`},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, nil)
	require.Error(t, err)
	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.NotEmpty(t, exec.Error)
}

func TestExecuteLoopBounded(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "loop",
		Steps: []Step{
			{
				ID:        "s1",
				Type:      StepLoop,
				Condition: `true`,
				MaxLoops:  3,
				Body:      []Step{{ID: "b", Type: StepAgentCall, AgentID: "worker", ResultKey: "last"}},
			},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.Context["loop_iteration"])
}

func TestExecuteDelayHonorsContext(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "slow",
		Steps: []Step{
			{ID: "s1", Type: StepDelay, DelayMS: 5000},
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	exec, err := e.Execute(ctx, w.ID, nil)
	require.Error(t, err)
	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteParallel(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "fanout",
		Steps: []Step{
			{
				ID:   "s1",
				Type: StepParallel,
				Branches: [][]Step{
					{{ID: "b1", Type: StepAgentCall, AgentID: "worker", ResultKey: "r1"}},
					{{ID: "b2", Type: StepAgentCall, AgentID: "worker", ResultKey: "r2"}},
				},
			},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, nil)
	require.NoError(t, err)
	assert.Contains(t, exec.Context, "r1")
	assert.Contains(t, exec.Context, "r2")
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)
	_, err := e.Execute(context.Background(), "nope", nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestCapabilityRoutedStep(t *testing.T) {
	e := newTestWorkflowEngine(t, nil)

	w, err := e.Register(Workflow{
		Name: "by capability",
		Steps: []Step{
			{ID: "s1", Type: StepAgentCall, Capability: "translate", ResultKey: "routed"},
		},
	})
	require.NoError(t, err)

	exec, err := e.Execute(context.Background(), w.ID, nil)
	require.NoError(t, err)
	result := exec.Context["routed"].(map[string]any)
	assert.Equal(t, []string{"worker"}, result["delivered_to"])
}
