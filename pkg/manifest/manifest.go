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

// Package manifest manages agent capability manifests: the published
// description of what an agent can do, what its capabilities cost, and
// the schemas its inputs must satisfy. The routing layer reads
// manifests to make cost-aware decisions.
package manifest

import (
	"encoding/json"
	"time"
)

// Standard metric keys consumed by the routing strategies.
const (
	MetricCostPerCall = "cost_per_call"
	MetricLatencyMS   = "avg_latency_ms"
	MetricSuccessRate = "success_rate"
)

// CapabilitySchema holds the JSON Schemas for one capability's input
// and output payloads. Either side may be absent.
type CapabilitySchema struct {
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Manifest is the published capability record for one agent.
type Manifest struct {
	AgentID      string                      `json:"agent_id"`
	DID          string                      `json:"did,omitempty"`
	Version      string                      `json:"version"`
	Capabilities []string                    `json:"capabilities"`
	Schemas      map[string]CapabilitySchema `json:"schemas,omitempty"`
	Metrics      map[string]float64          `json:"metrics"`
	Endpoints    map[string]string           `json:"endpoints,omitempty"`
	Metadata     map[string]any              `json:"metadata,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// HasCapability reports whether the manifest declares the capability.
func (m *Manifest) HasCapability(capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Metric returns the metric value, or fallback when absent.
func (m *Manifest) Metric(key string, fallback float64) float64 {
	if v, ok := m.Metrics[key]; ok {
		return v
	}
	return fallback
}

func (m *Manifest) clone() *Manifest {
	out := *m
	out.Capabilities = append([]string(nil), m.Capabilities...)
	if m.Schemas != nil {
		out.Schemas = make(map[string]CapabilitySchema, len(m.Schemas))
		for k, v := range m.Schemas {
			out.Schemas[k] = v
		}
	}
	if m.Metrics != nil {
		out.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			out.Metrics[k] = v
		}
	}
	if m.Endpoints != nil {
		out.Endpoints = make(map[string]string, len(m.Endpoints))
		for k, v := range m.Endpoints {
			out.Endpoints[k] = v
		}
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
