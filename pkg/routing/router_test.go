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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/message"
)

type captureDelivery struct {
	mu       sync.Mutex
	messages []message.Message
	fail     error
	failures int
}

func (d *captureDelivery) Deliver(_ context.Context, msg message.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return d.fail
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *captureDelivery) delivered() []message.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.Message(nil), d.messages...)
}

func newTestRouter(t *testing.T, delivery Delivery) (*MessageRouter, *agent.Registry) {
	t.Helper()
	agents := agent.NewRegistry(0, nil, nil)
	for _, a := range []agent.Agent{
		{ID: "a1", Name: "one", DID: "did:web:one", Capabilities: []string{"translate"}},
		{ID: "a2", Name: "two", Capabilities: []string{"summarize"}},
	} {
		_, err := agents.Register(a)
		require.NoError(t, err)
	}

	sel := selectorWith(t,
		withMetrics("a1", 0.1, 100, 0.9),
	)
	return NewMessageRouter(agents, sel, delivery, nil), agents
}

func TestRouteExplicitReceiver(t *testing.T) {
	delivery := &captureDelivery{}
	router, _ := newTestRouter(t, delivery)

	msg := message.New("a2", "a1", "hi", message.TypeText)
	targets, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, targets)

	got := delivery.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "did:web:one", got[0].ReceiverDID)
}

func TestRouteUnknownReceiver(t *testing.T) {
	router, _ := newTestRouter(t, &captureDelivery{})
	msg := message.New("a2", "ghost", "hi", message.TypeText)
	_, err := router.Route(context.Background(), msg)
	assert.True(t, errs.IsNotFound(err))
}

func TestRouteByCapability(t *testing.T) {
	delivery := &captureDelivery{}
	router, _ := newTestRouter(t, delivery)

	msg := message.New("a2", "", "translate me", message.TypeTask)
	msg.Metadata["required_capability"] = "translate"

	targets, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, targets)

	got := delivery.delivered()
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ReceiverID)
}

func TestRouteByCapabilityMethod(t *testing.T) {
	delivery := &captureDelivery{}
	router, _ := newTestRouter(t, delivery)

	// An already-set receiver is ignored and the message is untouched.
	msg := message.New("a2", "a2", "translate me", message.TypeTask)
	targets, err := router.RouteByCapability(context.Background(), msg, "translate", StrategyLowestCost)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, targets)
	assert.NotContains(t, msg.Metadata, "required_capability")

	_, err = router.RouteByCapability(context.Background(), msg, "", "")
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	_, err = router.RouteByCapability(context.Background(), msg, "translate", "guesswork")
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestSetStrategy(t *testing.T) {
	router, _ := newTestRouter(t, &captureDelivery{})
	require.NoError(t, router.SetStrategy(StrategyLowestLatency))
	err := router.SetStrategy("guesswork")
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestRouteNoCapableAgent(t *testing.T) {
	router, _ := newTestRouter(t, &captureDelivery{})

	msg := message.New("a2", "", "paint me", message.TypeTask)
	msg.Metadata["required_capability"] = "paint"

	_, err := router.Route(context.Background(), msg)
	assert.True(t, errs.Is(err, errs.KindNoRoute))
}

func TestRouteNoTarget(t *testing.T) {
	router, _ := newTestRouter(t, &captureDelivery{})
	msg := message.New("a2", "", "hello", message.TypeText)
	_, err := router.Route(context.Background(), msg)
	assert.True(t, errs.Is(err, errs.KindNoRoute))
}

func TestRouteRetriesTransientDelivery(t *testing.T) {
	delivery := &captureDelivery{
		fail:     errs.New(errs.KindTransient, "socket hiccup"),
		failures: 2,
	}
	router, _ := newTestRouter(t, delivery)

	msg := message.New("a2", "a1", "hi", message.TypeText)
	targets, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, targets)
	assert.Len(t, delivery.delivered(), 1)
}

func TestNotificationBroadcast(t *testing.T) {
	delivery := &captureDelivery{}
	router, _ := newTestRouter(t, delivery)

	msg := message.New("a1", "", "heads up", message.TypeNotification)
	targets, err := router.Route(context.Background(), msg)
	require.NoError(t, err)

	// Everyone active except the sender.
	assert.ElementsMatch(t, []string{"a2"}, targets)
}

func TestNotificationBroadcastFiltersByCapability(t *testing.T) {
	delivery := &captureDelivery{}
	router, agents := newTestRouter(t, delivery)
	_, err := agents.Register(agent.Agent{ID: "a3", Name: "three", Capabilities: []string{"translate"}})
	require.NoError(t, err)

	msg := message.New("a1", "", "translators: new glossary", message.TypeNotification)
	msg.Metadata["required_capability"] = "translate"

	// Only agents advertising the capability hear it, not everyone,
	// and not a single selected target.
	targets, err := router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a3"}, targets)

	msg = message.New("a2", "", "translators: new glossary", message.TypeNotification)
	msg.Metadata["required_capability"] = "translate"
	targets, err = router.Route(context.Background(), msg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a3"}, targets)
}

func TestBroadcastSkipsInactive(t *testing.T) {
	delivery := &captureDelivery{}
	router, agents := newTestRouter(t, delivery)

	inactive := agent.StatusInactive
	_, err := agents.Update("a2", agent.Patch{Status: &inactive})
	require.NoError(t, err)

	msg := message.New("a1", "", "heads up", message.TypeNotification)
	_, err = router.Route(context.Background(), msg)
	assert.True(t, errs.Is(err, errs.KindNoRoute))
}

func TestRouteEmitsMessageSent(t *testing.T) {
	bus := eventbus.NewBus()
	agents := agent.NewRegistry(0, nil, nil)
	_, err := agents.Register(agent.Agent{ID: "a1", Name: "one"})
	require.NoError(t, err)
	sel := selectorWith(t)
	router := NewMessageRouter(agents, sel, nil, bus)

	var events []eventbus.Event
	bus.Subscribe(eventbus.MessageSent, func(e eventbus.Event) {
		events = append(events, e)
	})

	msg := message.New("x", "a1", "hi", message.TypeText)
	_, err = router.Route(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "a1", events[0].Payload["receiver_id"])
}
