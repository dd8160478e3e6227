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
	"math/rand"
	"sync"
)

// Default hyperparameters.
const (
	DefaultAlpha   = 0.1
	DefaultGamma   = 0.9
	DefaultEpsilon = 0.1
)

// Reward shaping weights. Cost saturates at 1 and latency at 10
// seconds so a single slow expensive call cannot dominate learning.
const (
	rewardWeight  = 0.5
	costWeight    = 0.3
	latencyWeight = 0.2
	latencyScale  = 10000.0
)

// Outcome is one observed interaction used to update the table.
type Outcome struct {
	Reward    float64
	Cost      float64
	LatencyMS float64
}

// Shaped returns the composite reward: the raw reward discounted by
// normalized cost and latency.
func (o Outcome) Shaped() float64 {
	cost := o.Cost
	if cost > 1 {
		cost = 1
	}
	latency := o.LatencyMS / latencyScale
	if latency > 1 {
		latency = 1
	}
	return rewardWeight*o.Reward - costWeight*cost - latencyWeight*latency
}

// Stats summarizes a learner's progress.
type Stats struct {
	States  int     `json:"states"`
	Actions int     `json:"actions"`
	Updates int     `json:"updates"`
	Alpha   float64 `json:"alpha"`
	Gamma   float64 `json:"gamma"`
	Epsilon float64 `json:"epsilon"`
}

// QLearning is a tabular learner over named states and actions.
type QLearning struct {
	mu      sync.Mutex
	states  *Vocabulary
	actions *Vocabulary
	table   *QTable
	alpha   float64
	gamma   float64
	epsilon float64
	updates int
}

// NewQLearning creates a learner with the default hyperparameters.
func NewQLearning() *QLearning {
	return &QLearning{
		states:  NewVocabulary(),
		actions: NewVocabulary(),
		table:   NewQTable(),
		alpha:   DefaultAlpha,
		gamma:   DefaultGamma,
		epsilon: DefaultEpsilon,
	}
}

// SetEpsilon adjusts the exploration rate. Zero makes selection fully
// greedy.
func (q *QLearning) SetEpsilon(epsilon float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.epsilon = epsilon
}

// Update applies one Q-learning step for the (state, action) pair
// observed to lead to nextState with the given outcome, and returns
// the new value.
func (q *QLearning) Update(state, action, nextState string, outcome Outcome) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	si := q.states.Index(state)
	ai := q.actions.Index(action)
	ni := q.states.Index(nextState)

	current := q.table.Get(si, ai)
	future := q.table.MaxForState(ni)
	updated := current + q.alpha*(outcome.Shaped()+q.gamma*future-current)
	q.table.Set(si, ai, updated)
	q.updates++
	return updated
}

// SelectAction picks an action for the state from the given
// candidates: with probability epsilon a uniform random candidate,
// otherwise the one with the largest learned value. Ties resolve to
// the earliest candidate, and an unknown state returns the first.
func (q *QLearning) SelectAction(state string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.epsilon > 0 && rand.Float64() < q.epsilon {
		return candidates[rand.Intn(len(candidates))], true
	}

	si, known := q.states.Lookup(state)
	if !known {
		return candidates[0], true
	}

	best := candidates[0]
	bestValue := q.valueLocked(si, candidates[0])
	for _, c := range candidates[1:] {
		if v := q.valueLocked(si, c); v > bestValue {
			best, bestValue = c, v
		}
	}
	return best, true
}

func (q *QLearning) valueLocked(stateIdx int, action string) float64 {
	ai, ok := q.actions.Lookup(action)
	if !ok {
		return 0
	}
	return q.table.Get(stateIdx, ai)
}

// Value returns the learned value for (state, action), zero when
// either is unknown.
func (q *QLearning) Value(state, action string) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	si, ok := q.states.Lookup(state)
	if !ok {
		return 0
	}
	return q.valueLocked(si, action)
}

// BestAction returns the highest-valued known action for the state.
func (q *QLearning) BestAction(state string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	si, ok := q.states.Lookup(state)
	if !ok || q.actions.Len() == 0 {
		return "", false
	}

	bestIdx := 0
	bestValue := q.table.Get(si, 0)
	for ai := 1; ai < q.actions.Len(); ai++ {
		if v := q.table.Get(si, ai); v > bestValue {
			bestIdx, bestValue = ai, v
		}
	}
	return q.actions.Name(bestIdx), true
}

// Snapshot returns a deep copy of the current table.
func (q *QLearning) Snapshot() [][]float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.table.Snapshot()
}

// Load replaces the table with the given values, e.g. a federated
// average. Vocabulary indices are unchanged.
func (q *QLearning) Load(values [][]float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.table.Load(values)
}

// Stats returns a summary of the learner.
func (q *QLearning) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	states, actions := q.table.Shape()
	return Stats{
		States:  states,
		Actions: actions,
		Updates: q.updates,
		Alpha:   q.alpha,
		Gamma:   q.gamma,
		Epsilon: q.epsilon,
	}
}
