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

// Package agent defines the agent record and the in-memory registry
// that owns the live agent population.
package agent

import (
	"math"
	"time"
)

// Status is the lifecycle state of an agent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// DefaultCapabilities are assigned to agents registered without any.
var DefaultCapabilities = []string{"communication", "learning", "reasoning"}

// DefaultRole is assigned to agents registered without a role.
const DefaultRole = "general"

// Agent is the registry record for one participant in the mesh.
type Agent struct {
	ID              string             `json:"id"`
	DID             string             `json:"did,omitempty"`
	Name            string             `json:"name"`
	Role            string             `json:"role"`
	Status          Status             `json:"status"`
	Capabilities    []string           `json:"capabilities"`
	PublicKey       string             `json:"public_key,omitempty"`
	State           map[string]any     `json:"state"`
	Memory          []map[string]any   `json:"memory"`
	Metrics         map[string]float64 `json:"metrics"`
	SecurityLevel   string             `json:"security_level,omitempty"`
	AIProvider      string             `json:"ai_provider,omitempty"`
	ManifestVersion string             `json:"manifest_version,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	LastActive      time.Time          `json:"last_active"`
}

// normalize fills defaults on a freshly registered agent.
func (a *Agent) normalize(now time.Time) {
	if a.Role == "" {
		a.Role = DefaultRole
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if len(a.Capabilities) == 0 {
		a.Capabilities = append([]string(nil), DefaultCapabilities...)
	}
	if a.State == nil {
		a.State = make(map[string]any)
	}
	if a.Metrics == nil {
		a.Metrics = make(map[string]float64)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.LastActive = now
}

// HasCapability reports whether the agent declares the capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// clone returns a deep copy so registry internals never alias callers.
func (a *Agent) clone() *Agent {
	out := *a
	out.Capabilities = append([]string(nil), a.Capabilities...)
	if a.State != nil {
		out.State = make(map[string]any, len(a.State))
		for k, v := range a.State {
			out.State[k] = v
		}
	}
	if a.Memory != nil {
		out.Memory = make([]map[string]any, len(a.Memory))
		copy(out.Memory, a.Memory)
	}
	if a.Metrics != nil {
		out.Metrics = make(map[string]float64, len(a.Metrics))
		for k, v := range a.Metrics {
			out.Metrics[k] = v
		}
	}
	return &out
}

// validMetrics reports whether every metric value is finite.
func validMetrics(m map[string]float64) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
