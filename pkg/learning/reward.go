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
	"github.com/relaymesh/relaymesh/pkg/manifest"
)

// Reward calculation weights.
const (
	rewardCostWeight    = 0.2
	rewardLatencyWeight = 0.1
	successBonusScale   = 0.1
)

// RewardCalculator derives interaction rewards from task outcomes and
// published manifest metrics.
type RewardCalculator struct {
	manifests *manifest.Service
}

// NewRewardCalculator creates a calculator over the manifest service.
// manifests may be nil; fallback metrics are used throughout.
func NewRewardCalculator(manifests *manifest.Service) *RewardCalculator {
	return &RewardCalculator{manifests: manifests}
}

// Calculate returns the reward for an interaction with an agent. The
// base reward is positive on success and negative on failure; cost and
// latency penalties apply either way. Observed response time and cost
// take precedence over manifest metrics, which in turn take precedence
// over fixed fallbacks. Reliable agents earn a small bonus on success.
func (c *RewardCalculator) Calculate(agentID string, success bool, responseTimeMS, cost *float64) Outcome {
	effCost := 1.0
	latency := 1000.0
	successRate := 0.5

	if c.manifests != nil {
		if m, err := c.manifests.Get(agentID); err == nil {
			effCost = m.Metric(manifest.MetricCostPerCall, effCost)
			latency = m.Metric(manifest.MetricLatencyMS, latency)
			successRate = m.Metric(manifest.MetricSuccessRate, successRate)
		}
	}
	if cost != nil {
		effCost = *cost
	}
	if responseTimeMS != nil {
		latency = *responseTimeMS
	}

	normCost := effCost
	if normCost > 1 {
		normCost = 1
	}
	normLatency := latency / latencyScale
	if normLatency > 1 {
		normLatency = 1
	}

	base := 1.0
	if !success {
		base = -1.0
	}
	reward := base - rewardCostWeight*normCost - rewardLatencyWeight*normLatency
	if success {
		reward += (successRate - 0.5) * successBonusScale
	}

	return Outcome{Reward: reward, Cost: effCost, LatencyMS: latency}
}
