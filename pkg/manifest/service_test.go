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

package manifest

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(storage.NewMemoryStore(), nil)
	require.NoError(t, err)
	return s
}

func floatPtr(v float64) *float64 { return &v }

func TestCreateAndGet(t *testing.T) {
	s := newService(t)

	m, err := s.CreateOrReplace(Manifest{
		AgentID:      "a1",
		Capabilities: []string{"translate"},
		Metrics:      map[string]float64{MetricCostPerCall: 0.1},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"translate"}, got.Capabilities)

	_, err = s.Get("missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newService(t)

	_, err := s.CreateOrReplace(Manifest{})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = s.CreateOrReplace(Manifest{
		AgentID: "a1",
		Metrics: map[string]float64{"x": math.Inf(1)},
	})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestUpdatedAtStrictlyAdvances(t *testing.T) {
	s := newService(t)

	first, err := s.CreateOrReplace(Manifest{AgentID: "a1", Capabilities: []string{"x"}})
	require.NoError(t, err)

	second, err := s.Update("a1", nil, map[string]float64{MetricCostPerCall: 0.2}, nil)
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	third, err := s.CreateOrReplace(Manifest{AgentID: "a1", Capabilities: []string{"y"}})
	require.NoError(t, err)
	assert.True(t, third.UpdatedAt.After(second.UpdatedAt))
	assert.Equal(t, first.CreatedAt, third.CreatedAt)
}

func TestUpdateMerges(t *testing.T) {
	s := newService(t)

	_, err := s.CreateOrReplace(Manifest{
		AgentID:      "a1",
		Capabilities: []string{"translate"},
		Metrics:      map[string]float64{MetricCostPerCall: 0.1, MetricLatencyMS: 500},
	})
	require.NoError(t, err)

	updated, err := s.Update("a1", nil, map[string]float64{MetricCostPerCall: 0.3}, map[string]any{"region": "eu"})
	require.NoError(t, err)
	assert.Equal(t, 0.3, updated.Metrics[MetricCostPerCall])
	assert.Equal(t, 500.0, updated.Metrics[MetricLatencyMS])
	assert.Equal(t, []string{"translate"}, updated.Capabilities)
	assert.Equal(t, "eu", updated.Metadata["region"])

	_, err = s.Update("missing", nil, nil, nil)
	assert.True(t, errs.IsNotFound(err))
}

func TestFindByCapability(t *testing.T) {
	s := newService(t)
	for _, m := range []Manifest{
		{AgentID: "b", Capabilities: []string{"translate"}},
		{AgentID: "a", Capabilities: []string{"translate", "summarize"}},
		{AgentID: "c", Capabilities: []string{"summarize"}},
	} {
		_, err := s.CreateOrReplace(m)
		require.NoError(t, err)
	}

	got := s.FindByCapability("translate")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].AgentID)
	assert.Equal(t, "b", got[1].AgentID)
}

func TestFindByMetrics(t *testing.T) {
	s := newService(t)
	_, err := s.CreateOrReplace(Manifest{
		AgentID: "cheap",
		Metrics: map[string]float64{MetricCostPerCall: 0.1},
	})
	require.NoError(t, err)
	_, err = s.CreateOrReplace(Manifest{
		AgentID: "pricey",
		Metrics: map[string]float64{MetricCostPerCall: 0.9},
	})
	require.NoError(t, err)
	_, err = s.CreateOrReplace(Manifest{AgentID: "silent"})
	require.NoError(t, err)

	got := s.FindByMetrics(map[string]MetricRange{
		MetricCostPerCall: {Max: floatPtr(0.5)},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "cheap", got[0].AgentID)

	// Absent metrics fail lower bounds too.
	got = s.FindByMetrics(map[string]MetricRange{
		MetricCostPerCall: {Min: floatPtr(0.05)},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "cheap", got[0].AgentID)
	assert.Equal(t, "pricey", got[1].AgentID)
}

func TestValidateInput(t *testing.T) {
	s := newService(t)

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
	_, err := s.CreateOrReplace(Manifest{
		AgentID:      "a1",
		Capabilities: []string{"translate"},
		Schemas:      map[string]CapabilitySchema{"translate": {Input: schema}},
	})
	require.NoError(t, err)

	err = s.ValidateInput("a1", "translate", map[string]any{"text": "hello"})
	assert.NoError(t, err)

	err = s.ValidateInput("a1", "translate", map[string]any{"text": 42.0})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	// Capabilities without schemas accept anything.
	err = s.ValidateInput("a1", "summarize", map[string]any{"whatever": true})
	assert.NoError(t, err)
}

func TestCreateRejectsBadSchema(t *testing.T) {
	s := newService(t)
	_, err := s.CreateOrReplace(Manifest{
		AgentID: "a1",
		Schemas: map[string]CapabilitySchema{"x": {Input: json.RawMessage(`{`)}},
	})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestReloadFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	s, err := NewService(store, nil)
	require.NoError(t, err)
	_, err = s.CreateOrReplace(Manifest{AgentID: "a1", Capabilities: []string{"translate"}})
	require.NoError(t, err)

	reloaded, err := NewService(store, nil)
	require.NoError(t, err)
	got, err := reloaded.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"translate"}, got.Capabilities)
}
