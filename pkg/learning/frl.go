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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// DefaultSensitivity is the per-cell sensitivity assumed when
// privatizing aggregated tables.
const DefaultSensitivity = 1.0

// Update is one instance's submitted local table for an agent.
type Update struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	InstanceID string         `json:"instance_id"`
	Table      [][]float64    `json:"table"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AggregatorStats summarizes aggregator activity.
type AggregatorStats struct {
	PendingUpdates int       `json:"pending_updates"`
	PendingAgents  int       `json:"pending_agents"`
	Rounds         int       `json:"rounds"`
	LastRound      time.Time `json:"last_round,omitempty"`
	Epsilon        float64   `json:"epsilon"`
}

// Aggregator buffers local Q-table updates per agent and averages each
// agent's submissions into that agent's global model. Tables of
// different shapes are zero-padded to the maximum submitted shape
// before averaging, so late-joining instances with smaller
// vocabularies still contribute.
type Aggregator struct {
	mu      sync.Mutex
	pending map[string][]Update
	rounds  int
	last    time.Time
	epsilon float64
}

// NewAggregator creates an aggregator. epsilon > 0 enables Laplace
// differential privacy on submitted tables; 0 disables it.
func NewAggregator(epsilon float64) *Aggregator {
	return &Aggregator{
		pending: make(map[string][]Update),
		epsilon: epsilon,
	}
}

// Submit buffers a deep copy of one instance's local table for the
// agent and returns the content-derived update id.
func (a *Aggregator) Submit(agentID string, table [][]float64, instanceID string, metadata map[string]any) string {
	copied := make([][]float64, len(table))
	for i, row := range table {
		copied[i] = append([]float64(nil), row...)
	}

	now := time.Now()
	u := Update{
		ID:         updateID(agentID, copied, now),
		AgentID:    agentID,
		InstanceID: instanceID,
		Table:      copied,
		Metadata:   metadata,
		Timestamp:  now,
	}

	a.mu.Lock()
	a.pending[agentID] = append(a.pending[agentID], u)
	a.mu.Unlock()
	return u.ID
}

// updateID is a 16-character content hash over the submission.
func updateID(agentID string, table [][]float64, ts time.Time) string {
	payload, _ := json.Marshal(table)
	h := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", agentID, ts.UnixNano(), payload))
	return hex.EncodeToString(h[:])[:16]
}

// Aggregate averages the agent's buffered updates into one table and
// clears that agent's buffer. It requires at least two updates for the
// agent; fewer leave the buffer untouched and return false. Other
// agents' buffers are never touched.
func (a *Aggregator) Aggregate(agentID string) ([][]float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	updates := a.pending[agentID]
	if len(updates) < 2 {
		return nil, false
	}

	rows, cols := 0, 0
	for _, u := range updates {
		if len(u.Table) > rows {
			rows = len(u.Table)
		}
		for _, row := range u.Table {
			if len(row) > cols {
				cols = len(row)
			}
		}
	}

	sum := make([][]float64, rows)
	for i := range sum {
		sum[i] = make([]float64, cols)
	}
	for _, u := range updates {
		table := u.Table
		if a.epsilon > 0 {
			table = Privatize(table, a.epsilon, DefaultSensitivity)
		}
		for i, row := range table {
			for j, v := range row {
				sum[i][j] += v
			}
		}
	}

	n := float64(len(updates))
	for i := range sum {
		for j := range sum[i] {
			sum[i][j] /= n
		}
	}

	delete(a.pending, agentID)
	a.rounds++
	a.last = time.Now()
	return sum, true
}

// AgentIDs returns the agents with buffered updates, sorted.
func (a *Aggregator) AgentIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.pending))
	for id := range a.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Privatize returns a copy of the table with Laplace noise of scale
// sensitivity/epsilon added to every cell. epsilon <= 0 returns an
// unmodified copy. The input is never mutated.
func Privatize(table [][]float64, epsilon, sensitivity float64) [][]float64 {
	out := make([][]float64, len(table))
	for i, row := range table {
		out[i] = append([]float64(nil), row...)
	}
	if epsilon <= 0 {
		return out
	}
	scale := sensitivity / epsilon
	for i := range out {
		for j := range out[i] {
			out[i][j] += laplace(scale)
		}
	}
	return out
}

// laplace samples Laplace(0, scale) by inverse CDF.
func laplace(scale float64) float64 {
	u := rand.Float64() - 0.5
	if u >= 0 {
		return -scale * math.Log(1-2*u)
	}
	return scale * math.Log(1+2*u)
}

// PendingCount returns the number of buffered updates for the agent.
func (a *Aggregator) PendingCount(agentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending[agentID])
}

// Stats returns aggregator activity counters.
func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, updates := range a.pending {
		total += len(updates)
	}
	return AggregatorStats{
		PendingUpdates: total,
		PendingAgents:  len(a.pending),
		Rounds:         a.rounds,
		LastRound:      a.last,
		Epsilon:        a.epsilon,
	}
}
