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

package learning

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/pkg/eventbus"
)

// Engine ties per-agent learners to the federated aggregator and the
// event bus. One learner exists per agent, created on first use.
type Engine struct {
	mu         sync.Mutex
	learners   map[string]*QLearning
	calculator *RewardCalculator
	aggregator *Aggregator
	bus        *eventbus.Bus
	logger     *slog.Logger
	instance   string

	frlEnabled bool
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewEngine creates the learning engine. aggregator may be nil when
// federation is disabled.
func NewEngine(calculator *RewardCalculator, aggregator *Aggregator, bus *eventbus.Bus, frlEnabled bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		learners:   make(map[string]*QLearning),
		calculator: calculator,
		aggregator: aggregator,
		bus:        bus,
		logger:     logger,
		instance:   uuid.NewString(),
		frlEnabled: frlEnabled && aggregator != nil,
		stop:       make(chan struct{}),
	}
}

// Learner returns the agent's learner, creating it on first use.
func (e *Engine) Learner(agentID string) *QLearning {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.learners[agentID]
	if !ok {
		l = NewQLearning()
		e.learners[agentID] = l
	}
	return l
}

// UpdatePerformance applies one learning step for an agent's
// interaction and, when federation is on, submits the refreshed local
// table to the aggregator.
func (e *Engine) UpdatePerformance(agentID, state, action, nextState string, outcome Outcome) float64 {
	l := e.Learner(agentID)
	value := l.Update(state, action, nextState, outcome)

	if e.bus != nil {
		e.bus.Emit(eventbus.New(eventbus.RLReward, map[string]any{
			"agent_id": agentID,
			"state":    state,
			"action":   action,
			"reward":   outcome.Reward,
			"value":    value,
		}))
	}

	if e.frlEnabled {
		e.aggregator.Submit(agentID, l.Snapshot(), e.instance, nil)
	}
	return value
}

// CalculateAndUpdate derives the outcome from manifest metrics and the
// success flag, then applies it.
func (e *Engine) CalculateAndUpdate(agentID, state, action, nextState string, success bool) float64 {
	outcome := e.calculator.Calculate(agentID, success, nil, nil)
	return e.UpdatePerformance(agentID, state, action, nextState, outcome)
}

// SelectAction delegates to the agent's learner.
func (e *Engine) SelectAction(agentID, state string, candidates []string) (string, bool) {
	return e.Learner(agentID).SelectAction(state, candidates)
}

// Aggregate runs one federated averaging round per agent with enough
// buffered updates and installs each result into that agent's learner
// only. Returns false when no agent had two or more updates.
func (e *Engine) Aggregate() bool {
	if !e.frlEnabled {
		return false
	}

	var updated []string
	for _, agentID := range e.aggregator.AgentIDs() {
		averaged, ok := e.aggregator.Aggregate(agentID)
		if !ok {
			continue
		}
		e.Learner(agentID).Load(averaged)
		updated = append(updated, agentID)
	}
	if len(updated) == 0 {
		return false
	}

	if e.bus != nil {
		for _, agentID := range updated {
			e.bus.Emit(eventbus.New(eventbus.RLModelUpdated, map[string]any{
				"agent_id": agentID,
			}))
		}
		e.bus.Emit(eventbus.New(eventbus.FRLAggregation, map[string]any{
			"agents": updated,
			"rounds": e.aggregator.Stats().Rounds,
		}))
	}
	e.logger.Info("federated aggregation applied", "agents", len(updated))
	return true
}

// StartAggregationLoop runs Aggregate on the given interval until
// Stop. A non-positive interval disables the loop.
func (e *Engine) StartAggregationLoop(interval time.Duration) {
	if !e.frlEnabled || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Aggregate()
			case <-e.stop:
				return
			}
		}
	}()
}

// Stop halts the aggregation loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// StatsAll returns per-agent learner stats plus aggregator counters.
func (e *Engine) StatsAll() map[string]any {
	e.mu.Lock()
	learners := make(map[string]Stats, len(e.learners))
	for id, l := range e.learners {
		learners[id] = l.Stats()
	}
	e.mu.Unlock()

	out := map[string]any{"learners": learners, "frl_enabled": e.frlEnabled}
	if e.aggregator != nil {
		out["aggregator"] = e.aggregator.Stats()
	}
	return out
}
