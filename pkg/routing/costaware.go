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

// Package routing selects target agents for messages. Selection is
// deterministic: equal candidates always resolve the same way, with
// the agent id as the final tie-break.
package routing

import (
	"sort"
	"sync"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/manifest"
)

// Strategy names a cost-aware selection policy.
type Strategy string

const (
	StrategyLowestCost     Strategy = "lowest_cost"
	StrategyLowestLatency  Strategy = "lowest_latency"
	StrategyHighestSuccess Strategy = "highest_success"
	StrategyBestValue      Strategy = "best_value"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLowestCost, StrategyLowestLatency, StrategyHighestSuccess, StrategyBestValue:
		return true
	}
	return false
}

// Metric fallbacks when a manifest omits a value.
const (
	defaultCost        = 1.0
	defaultLatencyMS   = 1000.0
	defaultSuccessRate = 0.5
)

// SelectOptions constrain a cost-aware selection.
type SelectOptions struct {
	Strategy   Strategy
	MaxCost    *float64
	MaxLatency *float64
}

// Candidate is one scored agent in a ranking.
type Candidate struct {
	AgentID     string  `json:"agent_id"`
	Cost        float64 `json:"cost"`
	LatencyMS   float64 `json:"latency_ms"`
	SuccessRate float64 `json:"success_rate"`
	Score       float64 `json:"score"`
}

// CostAwareSelector picks agents for a capability based on their
// published manifest metrics.
type CostAwareSelector struct {
	manifests *manifest.Service

	mu       sync.RWMutex
	strategy Strategy
}

// NewCostAwareSelector creates a selector over the manifest service
// with best_value as the default strategy.
func NewCostAwareSelector(manifests *manifest.Service) *CostAwareSelector {
	return &CostAwareSelector{manifests: manifests, strategy: StrategyBestValue}
}

// SetStrategy changes the default strategy used when a call does not
// name one.
func (s *CostAwareSelector) SetStrategy(strategy Strategy) error {
	if !strategy.Valid() {
		return errs.New(errs.KindInvalidParams, "unknown strategy %q", strategy)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	return nil
}

func (s *CostAwareSelector) defaultStrategy() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategy
}

func (s *CostAwareSelector) candidates(capability string, opts SelectOptions) []Candidate {
	var out []Candidate
	for _, m := range s.manifests.FindByCapability(capability) {
		c := Candidate{
			AgentID:     m.AgentID,
			Cost:        m.Metric(manifest.MetricCostPerCall, defaultCost),
			LatencyMS:   m.Metric(manifest.MetricLatencyMS, defaultLatencyMS),
			SuccessRate: m.Metric(manifest.MetricSuccessRate, defaultSuccessRate),
		}
		if opts.MaxCost != nil && c.Cost > *opts.MaxCost {
			continue
		}
		if opts.MaxLatency != nil && c.LatencyMS > *opts.MaxLatency {
			continue
		}
		c.Score = bestValueScore(c)
		out = append(out, c)
	}
	return out
}

// bestValueScore balances success against normalized cost and latency.
// Higher is better.
func bestValueScore(c Candidate) float64 {
	cost := c.Cost
	if cost > 1 {
		cost = 1
	}
	latency := c.LatencyMS / 10000
	if latency > 1 {
		latency = 1
	}
	return 0.5*c.SuccessRate - 0.25*cost - 0.25*latency
}

func order(cands []Candidate, strategy Strategy) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch strategy {
		case StrategyLowestLatency:
			if a.LatencyMS != b.LatencyMS {
				return a.LatencyMS < b.LatencyMS
			}
			if a.Cost != b.Cost {
				return a.Cost < b.Cost
			}
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
		case StrategyHighestSuccess:
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
			if a.Cost != b.Cost {
				return a.Cost < b.Cost
			}
			if a.LatencyMS != b.LatencyMS {
				return a.LatencyMS < b.LatencyMS
			}
		case StrategyBestValue:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		default: // lowest_cost
			if a.Cost != b.Cost {
				return a.Cost < b.Cost
			}
			if a.LatencyMS != b.LatencyMS {
				return a.LatencyMS < b.LatencyMS
			}
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
		}
		return a.AgentID < b.AgentID
	})
}

// Select returns the best agent for the capability under the options,
// or false when no candidate satisfies the constraints.
func (s *CostAwareSelector) Select(capability string, opts SelectOptions) (string, bool) {
	if opts.Strategy == "" {
		opts.Strategy = s.defaultStrategy()
	}
	cands := s.candidates(capability, opts)
	if len(cands) == 0 {
		return "", false
	}
	order(cands, opts.Strategy)
	return cands[0].AgentID, true
}

// Rank returns up to limit candidates for the capability, best first,
// under the given options. Limit 0 means all.
func (s *CostAwareSelector) Rank(capability string, opts SelectOptions, limit int) []Candidate {
	if opts.Strategy == "" {
		opts.Strategy = s.defaultStrategy()
	}
	cands := s.candidates(capability, opts)
	order(cands, opts.Strategy)
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}
