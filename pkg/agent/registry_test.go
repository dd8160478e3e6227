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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry(0, nil, nil)

	a, err := r.Register(Agent{ID: "a1", Name: "translator"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRole, a.Role)
	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, DefaultCapabilities, a.Capabilities)
	assert.False(t, a.CreatedAt.IsZero())
	assert.False(t, a.LastActive.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one", DID: "did:web:one"})
	require.NoError(t, err)

	_, err = r.Register(Agent{ID: "a1", Name: "again"})
	assert.True(t, errs.Is(err, errs.KindDuplicate))

	_, err = r.Register(Agent{ID: "a2", Name: "two", DID: "did:web:one"})
	assert.True(t, errs.Is(err, errs.KindDuplicate))
}

func TestRegisterCapacity(t *testing.T) {
	r := NewRegistry(1, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)

	_, err = r.Register(Agent{ID: "a2", Name: "two"})
	assert.True(t, errs.Is(err, errs.KindInvalidState))

	// Freed capacity admits a new agent.
	assert.True(t, r.Unregister("a1"))
	_, err = r.Register(Agent{ID: "a2", Name: "two"})
	assert.NoError(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)

	a, err := r.Get("a1")
	require.NoError(t, err)
	a.State["mutated"] = true
	a.Capabilities[0] = "hacked"

	fresh, err := r.Get("a1")
	require.NoError(t, err)
	assert.NotContains(t, fresh.State, "mutated")
	assert.Equal(t, DefaultCapabilities[0], fresh.Capabilities[0])
}

func TestGetByDID(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one", DID: "did:web:one"})
	require.NoError(t, err)

	a, err := r.GetByDID("did:web:one")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)

	_, err = r.GetByDID("did:web:missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdate(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	registered, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)

	name := "renamed"
	status := StatusSuspended
	updated, err := r.Update("a1", Patch{
		Name:    &name,
		Status:  &status,
		Metrics: map[string]float64{"success_rate": 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, StatusSuspended, updated.Status)
	assert.Equal(t, 0.9, updated.Metrics["success_rate"])
	assert.False(t, updated.LastActive.Before(registered.LastActive))
}

func TestUpdateRejectsBadInput(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)

	bad := Status("limbo")
	_, err = r.Update("a1", Patch{Status: &bad})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = r.Update("a1", Patch{Metrics: map[string]float64{"x": math.NaN()}})
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = r.Update("missing", Patch{})
	assert.True(t, errs.IsNotFound(err))
}

func TestUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one", DID: "did:web:one"})
	require.NoError(t, err)

	assert.True(t, r.Unregister("a1"))
	assert.False(t, r.Unregister("a1"))
	assert.False(t, r.Exists("a1"))

	// The DID index is cleaned up with the agent.
	_, err = r.GetByDID("did:web:one")
	assert.True(t, errs.IsNotFound(err))
}

func TestListByCapabilityOnlyActive(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one", Capabilities: []string{"translate"}})
	require.NoError(t, err)
	_, err = r.Register(Agent{ID: "a2", Name: "two", Capabilities: []string{"translate"}, Status: StatusInactive})
	require.NoError(t, err)
	_, err = r.Register(Agent{ID: "a3", Name: "three", Capabilities: []string{"summarize"}})
	require.NoError(t, err)

	got := r.ListByCapability("translate")
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestCount(t *testing.T) {
	r := NewRegistry(0, nil, nil)
	_, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)
	_, err = r.Register(Agent{ID: "a2", Name: "two", Status: StatusSuspended})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 1, r.CountByStatus(StatusActive))
	assert.Equal(t, 1, r.CountByStatus(StatusSuspended))
	assert.Equal(t, 0, r.CountByStatus(StatusPending))
}

func TestRegistryEventsAndPersistence(t *testing.T) {
	bus := eventbus.NewBus()
	store := storage.NewMemoryStore()
	r := NewRegistry(0, bus, store)

	var types []eventbus.Type
	for _, typ := range []eventbus.Type{eventbus.AgentCreated, eventbus.AgentUpdated, eventbus.AgentDeleted} {
		bus.Subscribe(typ, func(e eventbus.Event) {
			types = append(types, e.Type)
		})
	}

	_, err := r.Register(Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)
	name := "renamed"
	_, err = r.Update("a1", Patch{Name: &name})
	require.NoError(t, err)
	r.Unregister("a1")

	assert.Equal(t, []eventbus.Type{eventbus.AgentCreated, eventbus.AgentUpdated, eventbus.AgentDeleted}, types)

	exists, err := store.Exists("agent:a1")
	require.NoError(t, err)
	assert.False(t, exists)
}
