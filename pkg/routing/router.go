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
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/message"
)

// Delivery hands a routed message to its destination transport.
type Delivery interface {
	Deliver(ctx context.Context, msg message.Message) error
}

// DeliveryFunc adapts a function to the Delivery interface.
type DeliveryFunc func(ctx context.Context, msg message.Message) error

// Deliver calls f.
func (f DeliveryFunc) Deliver(ctx context.Context, msg message.Message) error {
	return f(ctx, msg)
}

// Metadata keys the router consults.
const (
	metaRequiredCapability = "required_capability"
	metaRoutingStrategy    = "routing_strategy"
	metaMaxCost            = "max_cost"
	metaMaxLatency         = "max_latency"
)

const defaultDeliverTimeout = 30 * time.Second

// MessageRouter resolves a message to one or more target agents and
// delivers it. Resolution order: explicit receiver, then capability
// selection, then notification broadcast.
type MessageRouter struct {
	agents   *agent.Registry
	selector *CostAwareSelector
	delivery Delivery
	bus      *eventbus.Bus
	timeout  time.Duration
}

// NewMessageRouter creates a router. delivery may be nil, in which
// case routing resolves targets without transporting.
func NewMessageRouter(agents *agent.Registry, selector *CostAwareSelector, delivery Delivery, bus *eventbus.Bus) *MessageRouter {
	return &MessageRouter{
		agents:   agents,
		selector: selector,
		delivery: delivery,
		bus:      bus,
		timeout:  defaultDeliverTimeout,
	}
}

// SetTimeout overrides the per-delivery timeout.
func (r *MessageRouter) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// SetStrategy changes the selector's default strategy.
func (r *MessageRouter) SetStrategy(strategy Strategy) error {
	return r.selector.SetStrategy(strategy)
}

// RouteByCapability routes the message to the best agent advertising
// the capability, ignoring any receiver already set. An empty strategy
// uses the selector default.
func (r *MessageRouter) RouteByCapability(ctx context.Context, msg message.Message, capability string, strategy Strategy) ([]string, error) {
	if capability == "" {
		return nil, errs.New(errs.KindInvalidParams, "capability is required")
	}
	if strategy != "" && !strategy.Valid() {
		return nil, errs.New(errs.KindInvalidParams, "unknown strategy %q", strategy)
	}
	msg.ReceiverID = ""
	meta := make(map[string]any, len(msg.Metadata)+2)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	meta[metaRequiredCapability] = capability
	if strategy != "" {
		meta[metaRoutingStrategy] = string(strategy)
	}
	msg.Metadata = meta
	return r.Route(ctx, msg)
}

// Route resolves and delivers the message, returning the ids of the
// agents it was delivered to.
func (r *MessageRouter) Route(ctx context.Context, msg message.Message) ([]string, error) {
	if msg.ReceiverID != "" {
		target, err := r.agents.Get(msg.ReceiverID)
		if err != nil {
			return nil, err
		}
		if err := r.dispatch(ctx, msg, target); err != nil {
			return nil, err
		}
		return []string{target.ID}, nil
	}

	// Notifications fan out; required_capability narrows the audience
	// instead of picking a single target.
	if msg.Type == message.TypeNotification {
		return r.Broadcast(ctx, msg)
	}

	if capability, ok := msg.Metadata[metaRequiredCapability].(string); ok && capability != "" {
		id, found := r.selector.Select(capability, selectOptionsFrom(msg.Metadata))
		if !found {
			return nil, errs.New(errs.KindNoRoute,
				"no agent satisfies capability %q", capability).
				WithData("capability", capability)
		}
		target, err := r.agents.Get(id)
		if err != nil {
			return nil, err
		}
		msg.ReceiverID = target.ID
		if err := r.dispatch(ctx, msg, target); err != nil {
			return nil, err
		}
		return []string{target.ID}, nil
	}

	return nil, errs.New(errs.KindNoRoute, "message %s has no resolvable target", msg.ID)
}

func selectOptionsFrom(meta map[string]any) SelectOptions {
	opts := SelectOptions{}
	if v, ok := meta[metaRoutingStrategy].(string); ok {
		opts.Strategy = Strategy(v)
		if !opts.Strategy.Valid() {
			opts.Strategy = ""
		}
	}
	if v, ok := toFloat(meta[metaMaxCost]); ok {
		opts.MaxCost = &v
	}
	if v, ok := toFloat(meta[metaMaxLatency]); ok {
		opts.MaxLatency = &v
	}
	return opts
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// dispatch delivers to a single resolved target with retry on
// transient failures.
func (r *MessageRouter) dispatch(ctx context.Context, msg message.Message, target *agent.Agent) error {
	msg.ReceiverDID = target.DID

	if r.delivery != nil {
		dctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		err := errs.Retry(dctx, func() error {
			return r.delivery.Deliver(dctx, msg)
		})
		if err != nil {
			return err
		}
	}

	r.agents.Touch(target.ID)
	r.emitSent(msg, target.ID)
	return nil
}

// Broadcast delivers the message to every active agent except the
// sender. A required_capability in the metadata restricts the audience
// to agents advertising that capability. Broadcast succeeds when at
// least one delivery succeeds.
func (r *MessageRouter) Broadcast(ctx context.Context, msg message.Message) ([]string, error) {
	pool := r.agents.List()
	if capability, ok := msg.Metadata[metaRequiredCapability].(string); ok && capability != "" {
		pool = r.agents.ListByCapability(capability)
	}
	var targets []*agent.Agent
	for _, a := range pool {
		if a.Status == agent.StatusActive && a.ID != msg.SenderID {
			targets = append(targets, a)
		}
	}
	if len(targets) == 0 {
		return nil, errs.New(errs.KindNoRoute, "no active agents to broadcast to")
	}

	var delivered int64
	reached := make([]string, len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			m := msg
			m.ReceiverID = target.ID
			if err := r.dispatch(ctx, m, target); err != nil {
				return nil // per-target failures do not fail the broadcast
			}
			atomic.AddInt64(&delivered, 1)
			reached[i] = target.ID
			return nil
		})
	}
	_ = g.Wait()

	if delivered == 0 {
		return nil, errs.New(errs.KindNoRoute, "broadcast reached no agents")
	}
	out := make([]string, 0, delivered)
	for _, id := range reached {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *MessageRouter) emitSent(msg message.Message, targetID string) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventbus.New(eventbus.MessageSent, map[string]any{
		"message_id":   msg.ID,
		"sender_id":    msg.SenderID,
		"receiver_id":  targetID,
		"message_type": string(msg.Type),
	}))
}
