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

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/manifest"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

func selectorWith(t *testing.T, manifests ...manifest.Manifest) *CostAwareSelector {
	t.Helper()
	svc, err := manifest.NewService(storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	for _, m := range manifests {
		_, err := svc.CreateOrReplace(m)
		require.NoError(t, err)
	}
	return NewCostAwareSelector(svc)
}

func withMetrics(id string, cost, latency, success float64) manifest.Manifest {
	return manifest.Manifest{
		AgentID:      id,
		Capabilities: []string{"translate"},
		Metrics: map[string]float64{
			manifest.MetricCostPerCall: cost,
			manifest.MetricLatencyMS:   latency,
			manifest.MetricSuccessRate: success,
		},
	}
}

func TestSelectByStrategy(t *testing.T) {
	sel := selectorWith(t,
		withMetrics("cheap-slow", 0.1, 5000, 0.7),
		withMetrics("fast-pricey", 0.8, 100, 0.8),
		withMetrics("reliable", 0.5, 1000, 0.99),
	)

	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyLowestCost, "cheap-slow"},
		{StrategyLowestLatency, "fast-pricey"},
		{StrategyHighestSuccess, "reliable"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, ok := sel.Select("translate", SelectOptions{Strategy: tt.strategy})
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectDefaultStrategy(t *testing.T) {
	sel := selectorWith(t,
		withMetrics("cheap-slow", 0.1, 5000, 0.7),
		withMetrics("fast-pricey", 0.8, 100, 0.8),
	)

	require.NoError(t, sel.SetStrategy(StrategyLowestCost))
	id, ok := sel.Select("translate", SelectOptions{})
	require.True(t, ok)
	assert.Equal(t, "cheap-slow", id)

	require.NoError(t, sel.SetStrategy(StrategyLowestLatency))
	id, ok = sel.Select("translate", SelectOptions{})
	require.True(t, ok)
	assert.Equal(t, "fast-pricey", id)

	// An explicit per-call strategy overrides the default.
	id, ok = sel.Select("translate", SelectOptions{Strategy: StrategyLowestCost})
	require.True(t, ok)
	assert.Equal(t, "cheap-slow", id)
}

func TestSelectTieBreaksOnAgentID(t *testing.T) {
	sel := selectorWith(t,
		withMetrics("beta", 0.2, 500, 0.9),
		withMetrics("alpha", 0.2, 500, 0.9),
	)

	for _, strategy := range []Strategy{StrategyLowestCost, StrategyLowestLatency, StrategyHighestSuccess, StrategyBestValue} {
		got, ok := sel.Select("translate", SelectOptions{Strategy: strategy})
		require.True(t, ok)
		assert.Equal(t, "alpha", got, "strategy %s", strategy)
	}
}

func TestSelectBestValueScore(t *testing.T) {
	// score = 0.5*success - 0.25*min(cost,1) - 0.25*min(latency/10000,1)
	sel := selectorWith(t,
		withMetrics("balanced", 0.2, 1000, 0.9), // 0.45 - 0.05 - 0.025 = 0.375
		withMetrics("perfect-but-pricey", 2.0, 20000, 1.0), // 0.5 - 0.25 - 0.25 = 0
	)
	got, ok := sel.Select("translate", SelectOptions{Strategy: StrategyBestValue})
	require.True(t, ok)
	assert.Equal(t, "balanced", got)
}

func TestSelectConstraints(t *testing.T) {
	sel := selectorWith(t,
		withMetrics("pricey", 0.9, 100, 0.9),
		withMetrics("cheap", 0.1, 4000, 0.8),
	)

	maxCost := 0.5
	got, ok := sel.Select("translate", SelectOptions{Strategy: StrategyLowestLatency, MaxCost: &maxCost})
	require.True(t, ok)
	assert.Equal(t, "cheap", got)

	// Unsatisfiable constraints select nobody.
	impossible := 0.01
	_, ok = sel.Select("translate", SelectOptions{MaxCost: &impossible})
	assert.False(t, ok)
}

func TestSelectUnknownCapability(t *testing.T) {
	sel := selectorWith(t, withMetrics("a", 0.1, 100, 0.9))
	_, ok := sel.Select("paint", SelectOptions{})
	assert.False(t, ok)
}

func TestSelectUsesFallbackMetrics(t *testing.T) {
	sel := selectorWith(t,
		manifest.Manifest{AgentID: "bare", Capabilities: []string{"translate"}},
		withMetrics("cheap", 0.1, 100, 0.9),
	)
	// Bare manifests default to cost 1, latency 1000, success 0.5.
	got, ok := sel.Select("translate", SelectOptions{Strategy: StrategyLowestCost})
	require.True(t, ok)
	assert.Equal(t, "cheap", got)
}

func TestRank(t *testing.T) {
	sel := selectorWith(t,
		withMetrics("a", 0.3, 500, 0.9),
		withMetrics("b", 0.1, 500, 0.9),
		withMetrics("c", 0.2, 500, 0.9),
	)

	ranked := sel.Rank("translate", SelectOptions{Strategy: StrategyLowestCost}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].AgentID)
	assert.Equal(t, "c", ranked[1].AgentID)
}
