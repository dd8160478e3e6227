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

package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

const storeKeyPrefix = "agent:"

// Patch is a partial update to an agent. Nil fields are left unchanged.
type Patch struct {
	Name          *string
	Role          *string
	Status        *Status
	Capabilities  []string
	PublicKey     *string
	State         map[string]any
	Metrics       map[string]float64
	SecurityLevel *string
	AIProvider    *string
}

// Registry owns the live agent population. Reads return copies; the
// registry is the only writer of its records.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Agent
	byDID     map[string]string
	maxAgents int
	bus       *eventbus.Bus
	store     storage.Store
}

// NewRegistry creates a registry bounded at maxAgents (0 means
// unbounded). The bus and store are optional.
func NewRegistry(maxAgents int, bus *eventbus.Bus, store storage.Store) *Registry {
	return &Registry{
		byID:      make(map[string]*Agent),
		byDID:     make(map[string]string),
		maxAgents: maxAgents,
		bus:       bus,
		store:     store,
	}
}

// Register adds a new agent. The id and, when set, the DID must be
// unique. Missing fields are filled with defaults.
func (r *Registry) Register(a Agent) (*Agent, error) {
	if a.ID == "" {
		return nil, errs.New(errs.KindInvalidParams, "agent id is required")
	}
	if a.Name == "" {
		return nil, errs.New(errs.KindInvalidParams, "agent name is required")
	}
	if !validMetrics(a.Metrics) {
		return nil, errs.New(errs.KindInvalidParams, "agent metrics must be finite")
	}

	r.mu.Lock()
	if r.maxAgents > 0 && len(r.byID) >= r.maxAgents {
		r.mu.Unlock()
		return nil, errs.New(errs.KindInvalidState, "agent capacity %d reached", r.maxAgents)
	}
	if _, ok := r.byID[a.ID]; ok {
		r.mu.Unlock()
		return nil, errs.New(errs.KindDuplicate, "agent %q already registered", a.ID)
	}
	if a.DID != "" {
		if _, ok := r.byDID[a.DID]; ok {
			r.mu.Unlock()
			return nil, errs.New(errs.KindDuplicate, "did %q already registered", a.DID)
		}
	}

	a.normalize(time.Now())
	stored := a.clone()
	r.byID[a.ID] = stored
	if a.DID != "" {
		r.byDID[a.DID] = a.ID
	}
	r.mu.Unlock()

	r.persist(stored)
	r.emit(eventbus.AgentCreated, map[string]any{"agent": stored.clone()})
	return stored.clone(), nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "agent %q not found", id)
	}
	return a.clone(), nil
}

// GetByDID returns a copy of the agent with the given DID.
func (r *Registry) GetByDID(did string) (*Agent, error) {
	r.mu.RLock()
	id, ok := r.byDID[did]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "did %q not found", did)
	}
	return r.Get(id)
}

// Update applies a partial update and refreshes last_active.
func (r *Registry) Update(id string, p Patch) (*Agent, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, errs.New(errs.KindInvalidParams, "unknown agent status %q", *p.Status)
	}
	if !validMetrics(p.Metrics) {
		return nil, errs.New(errs.KindInvalidParams, "agent metrics must be finite")
	}

	r.mu.Lock()
	a, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "agent %q not found", id)
	}

	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Capabilities != nil {
		a.Capabilities = append([]string(nil), p.Capabilities...)
	}
	if p.PublicKey != nil {
		a.PublicKey = *p.PublicKey
	}
	if p.SecurityLevel != nil {
		a.SecurityLevel = *p.SecurityLevel
	}
	if p.AIProvider != nil {
		a.AIProvider = *p.AIProvider
	}
	for k, v := range p.State {
		a.State[k] = v
	}
	for k, v := range p.Metrics {
		a.Metrics[k] = v
	}
	a.LastActive = time.Now()
	out := a.clone()
	r.mu.Unlock()

	r.persist(out)
	r.emit(eventbus.AgentUpdated, map[string]any{"agent_id": id})
	return out, nil
}

// Touch refreshes the agent's last_active timestamp.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if a, ok := r.byID[id]; ok {
		a.LastActive = time.Now()
	}
	r.mu.Unlock()
}

// Unregister removes the agent. Removing an absent agent is a no-op
// and returns false.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	a, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	if a.DID != "" {
		delete(r.byDID, a.DID)
	}
	r.mu.Unlock()

	if r.store != nil {
		_, _ = r.store.Delete(storeKeyPrefix + id)
	}
	r.emit(eventbus.AgentDeleted, map[string]any{"agent_id": id, "did": a.DID})
	return true
}

// List returns copies of all agents, ordered by id.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByCapability returns active agents declaring the capability.
func (r *Registry) ListByCapability(capability string) []*Agent {
	var out []*Agent
	for _, a := range r.List() {
		if a.Status == StatusActive && a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out
}

// ListByRole returns agents with the given role.
func (r *Registry) ListByRole(role string) []*Agent {
	var out []*Agent
	for _, a := range r.List() {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountByStatus returns the number of registered agents in the given
// status.
func (r *Registry) CountByStatus(status Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.byID {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Exists reports whether the agent id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) persist(a *Agent) {
	if r.store == nil {
		return
	}
	_ = storage.SetJSON(r.store, storeKeyPrefix+a.ID, a)
}

func (r *Registry) emit(t eventbus.Type, payload map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventbus.New(t, payload))
}
