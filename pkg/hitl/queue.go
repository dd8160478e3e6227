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

// Package hitl implements human-in-the-loop gating: messages flagged
// as sensitive wait in an approval queue until an operator decides or
// the request expires.
package hitl

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

const storeKeyPrefix = "approval:"

// ApprovalStatus is the state of one approval request.
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
	StatusExpired   ApprovalStatus = "expired"
	StatusEscalated ApprovalStatus = "escalated"
)

// ApprovalRequest is one message waiting on a human decision. Reason
// records why the message was gated; DecisionReason records why the
// operator rejected it (or "timeout" on expiry). The done channel
// closes exactly once, when the request leaves pending.
type ApprovalRequest struct {
	ID             string          `json:"id"`
	Message        message.Message `json:"message"`
	Status         ApprovalStatus  `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Requester      string          `json:"requester,omitempty"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	DecidedBy      string          `json:"decided_by,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at,omitempty"`
	DecidedAt      time.Time       `json:"decided_at,omitempty"`

	done chan struct{}
}

// Done returns a channel closed when the request is decided or
// expires.
func (r *ApprovalRequest) Done() <-chan struct{} {
	return r.done
}

func (r *ApprovalRequest) snapshot() ApprovalRequest {
	out := *r
	out.done = nil
	return out
}

// Queue holds pending approval requests and sweeps expired ones.
type Queue struct {
	mu             sync.Mutex
	requests       map[string]*ApprovalRequest
	defaultTimeout time.Duration
	store          storage.Store

	stopSweeper chan struct{}
	sweeperOnce sync.Once
}

// NewQueue creates an approval queue. defaultTimeout 0 means requests
// never expire unless given an explicit timeout.
func NewQueue(defaultTimeout time.Duration, store storage.Store) *Queue {
	return &Queue{
		requests:       make(map[string]*ApprovalRequest),
		defaultTimeout: defaultTimeout,
		store:          store,
		stopSweeper:    make(chan struct{}),
	}
}

// Add enqueues a message for approval with the gating reason and the
// identity that caused it. timeout 0 falls back to the queue default;
// a zero default means no deadline.
func (q *Queue) Add(msg message.Message, reason, requester string, timeout time.Duration) *ApprovalRequest {
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	req := &ApprovalRequest{
		ID:        uuid.NewString(),
		Message:   msg,
		Status:    StatusPending,
		Reason:    reason,
		Requester: requester,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if timeout > 0 {
		req.ExpiresAt = req.CreatedAt.Add(timeout)
	}

	q.mu.Lock()
	q.requests[req.ID] = req
	q.mu.Unlock()

	q.persist(req)
	return req
}

// Get returns a snapshot of the request.
func (q *Queue) Get(id string) (ApprovalRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.requests[id]
	if !ok {
		return ApprovalRequest{}, errs.New(errs.KindNotFound, "approval %q not found", id)
	}
	return req.snapshot(), nil
}

// Approve marks a pending request approved. Deciding a non-pending
// request is a no-op returning false.
func (q *Queue) Approve(id, decidedBy string) bool {
	return q.decide(id, StatusApproved, decidedBy, "")
}

// Reject marks a pending request rejected with a reason.
func (q *Queue) Reject(id, decidedBy, reason string) bool {
	return q.decide(id, StatusRejected, decidedBy, reason)
}

func (q *Queue) decide(id string, status ApprovalStatus, decidedBy, reason string) bool {
	q.mu.Lock()
	req, ok := q.requests[id]
	if !ok || req.Status != StatusPending {
		q.mu.Unlock()
		return false
	}
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecisionReason = reason
	req.DecidedAt = time.Now()
	close(req.done)
	snap := req.snapshot()
	q.mu.Unlock()

	q.persist(&snap)
	return true
}

// ListPending returns snapshots of pending requests, oldest first.
func (q *Queue) ListPending() []ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []ApprovalRequest
	for _, req := range q.requests {
		if req.Status == StatusPending {
			out = append(out, req.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CleanupExpired transitions pending requests past their deadline to
// expired and returns the ids it swept.
func (q *Queue) CleanupExpired() []string {
	now := time.Now()
	var swept []ApprovalRequest

	q.mu.Lock()
	for _, req := range q.requests {
		if req.Status == StatusPending && !req.ExpiresAt.IsZero() && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			req.DecisionReason = "timeout"
			req.DecidedAt = now
			close(req.done)
			swept = append(swept, req.snapshot())
		}
	}
	q.mu.Unlock()

	ids := make([]string, 0, len(swept))
	for i := range swept {
		q.persist(&swept[i])
		ids = append(ids, swept[i].ID)
	}
	return ids
}

// StartSweeper runs CleanupExpired on the given cadence until Stop.
func (q *Queue) StartSweeper(interval time.Duration) {
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	q.sweeperOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					q.CleanupExpired()
				case <-q.stopSweeper:
					return
				}
			}
		}()
	})
}

// Stop halts the sweeper goroutine.
func (q *Queue) Stop() {
	select {
	case <-q.stopSweeper:
	default:
		close(q.stopSweeper)
	}
}

func (q *Queue) persist(req *ApprovalRequest) {
	if q.store == nil {
		return
	}
	_ = storage.SetJSON(q.store, storeKeyPrefix+req.ID, req)
}
