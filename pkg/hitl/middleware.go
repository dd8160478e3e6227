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

package hitl

import (
	"context"
	"time"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/message"
)

// Metadata flags that force approval gating.
const (
	metaSensitiveTransaction = "sensitive_transaction"
	metaRequiresApproval     = "requires_approval"
)

// Middleware gates sensitive messages behind the approval queue.
type Middleware struct {
	queue   *Queue
	bus     *eventbus.Bus
	enabled bool
	timeout time.Duration
}

// NewMiddleware creates the gating middleware. When disabled, every
// message passes straight through.
func NewMiddleware(queue *Queue, bus *eventbus.Bus, enabled bool, timeout time.Duration) *Middleware {
	return &Middleware{queue: queue, bus: bus, enabled: enabled, timeout: timeout}
}

// NeedsApproval reports whether the message must be gated.
func NeedsApproval(msg message.Message) bool {
	if msg.RequiresApproval {
		return true
	}
	if v, ok := msg.Metadata[metaSensitiveTransaction].(bool); ok && v {
		return true
	}
	if v, ok := msg.Metadata[metaRequiresApproval].(bool); ok && v {
		return true
	}
	return false
}

// Process gates the message if it needs approval, blocking until a
// decision, expiry, or context cancellation. Approved messages return
// unchanged for onward routing.
func (m *Middleware) Process(ctx context.Context, msg message.Message) (message.Message, error) {
	if !m.enabled || !NeedsApproval(msg) {
		return msg, nil
	}

	req := m.queue.Add(msg, gatingReason(msg), msg.SenderID, m.timeout)
	m.emit(eventbus.HITLApprovalRequired, req.ID, msg, "", req.Reason)

	select {
	case <-req.Done():
	case <-ctx.Done():
		return message.Message{}, errs.Wrap(errs.KindFatal, ctx.Err(),
			"approval wait interrupted for message %s", msg.ID)
	}

	decided, err := m.queue.Get(req.ID)
	if err != nil {
		return message.Message{}, err
	}

	switch decided.Status {
	case StatusApproved:
		m.emit(eventbus.HITLApproved, req.ID, msg, decided.DecidedBy, "")
		return msg, nil
	case StatusRejected:
		m.emit(eventbus.HITLRejected, req.ID, msg, decided.DecidedBy, decided.DecisionReason)
		return message.Message{}, errs.New(errs.KindApprovalRejected,
			"message %s rejected by operator", msg.ID).
			WithData("approval_id", req.ID).
			WithData("reason", decided.DecisionReason)
	case StatusExpired:
		// Expiry is a rejection with reason "timeout".
		m.emit(eventbus.HITLRejected, req.ID, msg, "", "timeout")
		return message.Message{}, errs.New(errs.KindApprovalExpired,
			"approval for message %s expired", msg.ID).
			WithData("approval_id", req.ID).
			WithData("reason", "timeout")
	default:
		return message.Message{}, errs.New(errs.KindFatal,
			"approval %s left wait in state %s", req.ID, decided.Status)
	}
}

// gatingReason names the flag that forced the approval.
func gatingReason(msg message.Message) string {
	if v, ok := msg.Metadata[metaSensitiveTransaction].(bool); ok && v {
		return "sensitive transaction"
	}
	return "requires approval"
}

func (m *Middleware) emit(t eventbus.Type, approvalID string, msg message.Message, decidedBy, reason string) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{
		"approval_id": approvalID,
		"message_id":  msg.ID,
		"sender_id":   msg.SenderID,
	}
	if decidedBy != "" {
		payload["decided_by"] = decidedBy
	}
	if reason != "" {
		payload["reason"] = reason
	}
	m.bus.Emit(eventbus.New(t, payload))
}
