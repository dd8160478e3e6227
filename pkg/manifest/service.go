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
	"bytes"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

const storeKeyPrefix = "manifest:"

// MetricRange bounds one metric in a FindByMetrics query. Nil sides
// are unbounded.
type MetricRange struct {
	Min *float64
	Max *float64
}

// Service is the manifest registry: a write-through cache over the
// blob store, keyed by agent id.
type Service struct {
	mu    sync.RWMutex
	cache map[string]*Manifest
	store storage.Store
	bus   *eventbus.Bus
}

// NewService creates a manifest service over the given store. Existing
// manifests are loaded into the cache.
func NewService(store storage.Store, bus *eventbus.Bus) (*Service, error) {
	s := &Service{
		cache: make(map[string]*Manifest),
		store: store,
		bus:   bus,
	}
	if store != nil {
		keys, err := store.Keys(storeKeyPrefix)
		if err != nil {
			return nil, errs.Wrap(errs.KindFatal, err, "load manifests")
		}
		for _, key := range keys {
			var m Manifest
			if ok, err := storage.GetJSON(store, key, &m); err == nil && ok {
				s.cache[m.AgentID] = &m
			}
		}
	}
	return s, nil
}

// CreateOrReplace installs a manifest for an agent, replacing any
// previous version.
func (s *Service) CreateOrReplace(m Manifest) (*Manifest, error) {
	if m.AgentID == "" {
		return nil, errs.New(errs.KindInvalidParams, "manifest agent_id is required")
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.Metrics == nil {
		m.Metrics = make(map[string]float64)
	}
	for k, v := range m.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errs.New(errs.KindInvalidParams, "metric %q must be finite", k)
		}
	}
	if err := compileSchemas(m.Schemas); err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	if prev, ok := s.cache[m.AgentID]; ok {
		m.CreatedAt = prev.CreatedAt
		// UpdatedAt must strictly advance even within one clock tick.
		if !now.After(prev.UpdatedAt) {
			now = prev.UpdatedAt.Add(time.Nanosecond)
		}
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	stored := m.clone()
	s.cache[m.AgentID] = stored
	s.mu.Unlock()

	s.persist(stored)
	s.emit(stored.AgentID)
	return stored.clone(), nil
}

// Get returns a copy of the agent's manifest.
func (s *Service) Get(agentID string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.cache[agentID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "manifest for agent %q not found", agentID)
	}
	return m.clone(), nil
}

// Update merges partial fields into an existing manifest. Non-nil
// capabilities replace; metrics and metadata merge per key.
func (s *Service) Update(agentID string, capabilities []string, metrics map[string]float64, metadata map[string]any) (*Manifest, error) {
	for k, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errs.New(errs.KindInvalidParams, "metric %q must be finite", k)
		}
	}

	s.mu.Lock()
	m, ok := s.cache[agentID]
	if !ok {
		s.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "manifest for agent %q not found", agentID)
	}

	if capabilities != nil {
		m.Capabilities = append([]string(nil), capabilities...)
	}
	for k, v := range metrics {
		m.Metrics[k] = v
	}
	if metadata != nil {
		if m.Metadata == nil {
			m.Metadata = make(map[string]any)
		}
		for k, v := range metadata {
			m.Metadata[k] = v
		}
	}
	now := time.Now()
	if !now.After(m.UpdatedAt) {
		now = m.UpdatedAt.Add(time.Nanosecond)
	}
	m.UpdatedAt = now
	out := m.clone()
	s.mu.Unlock()

	s.persist(out)
	s.emit(agentID)
	return out, nil
}

// Delete removes the agent's manifest. Returns false when absent.
func (s *Service) Delete(agentID string) bool {
	s.mu.Lock()
	_, ok := s.cache[agentID]
	delete(s.cache, agentID)
	s.mu.Unlock()

	if ok && s.store != nil {
		_, _ = s.store.Delete(storeKeyPrefix + agentID)
	}
	return ok
}

// FindByCapability returns manifests declaring the capability, ordered
// by agent id.
func (s *Service) FindByCapability(capability string) []*Manifest {
	var out []*Manifest
	for _, m := range s.ListAll() {
		if m.HasCapability(capability) {
			out = append(out, m)
		}
	}
	return out
}

// FindByMetrics returns manifests whose metrics fall inside every
// given range. A manifest missing a constrained metric fails that
// constraint.
func (s *Service) FindByMetrics(ranges map[string]MetricRange) []*Manifest {
	var out []*Manifest
	for _, m := range s.ListAll() {
		if matchesRanges(m, ranges) {
			out = append(out, m)
		}
	}
	return out
}

func matchesRanges(m *Manifest, ranges map[string]MetricRange) bool {
	for key, r := range ranges {
		v, ok := m.Metrics[key]
		if !ok {
			// Absent metrics count as worst case on both sides.
			if r.Max != nil {
				return false
			}
			if r.Min != nil && *r.Min > 0 {
				return false
			}
			continue
		}
		if r.Min != nil && v < *r.Min {
			return false
		}
		if r.Max != nil && v > *r.Max {
			return false
		}
	}
	return true
}

// ListAll returns copies of all manifests, ordered by agent id.
func (s *Service) ListAll() []*Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Manifest, 0, len(s.cache))
	for _, m := range s.cache {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Count returns the number of registered manifests.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// ValidateInput checks payload against the capability's input schema.
// Capabilities without a schema accept any payload.
func (s *Service) ValidateInput(agentID, capability string, payload any) error {
	m, err := s.Get(agentID)
	if err != nil {
		return err
	}
	cs, ok := m.Schemas[capability]
	if !ok || len(cs.Input) == 0 {
		return nil
	}

	schema, err := compileSchema(agentID+"/"+capability+"/input", cs.Input)
	if err != nil {
		return err
	}
	if err := schema.Validate(payload); err != nil {
		return errs.Wrap(errs.KindInvalidParams, err,
			"payload rejected by %q input schema", capability)
	}
	return nil
}

func compileSchemas(schemas map[string]CapabilitySchema) error {
	for capability, cs := range schemas {
		if len(cs.Input) > 0 {
			if _, err := compileSchema(capability+"/input", cs.Input); err != nil {
				return err
			}
		}
		if len(cs.Output) > 0 {
			if _, err := compileSchema(capability+"/output", cs.Output); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidParams, err, "schema %q is not valid JSON", name)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, errs.Wrap(errs.KindInvalidParams, err, "schema %q rejected", name)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidParams, err, "schema %q does not compile", name)
	}
	return schema, nil
}

func (s *Service) persist(m *Manifest) {
	if s.store == nil {
		return
	}
	_ = storage.SetJSON(s.store, storeKeyPrefix+m.AgentID, m)
}

func (s *Service) emit(agentID string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventbus.New(eventbus.ManifestUpdated, map[string]any{"agent_id": agentID}))
}
