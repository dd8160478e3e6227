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

// Package middleware holds the inbound message guards: per-sender
// rate limiting and payload validation.
package middleware

import (
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/pkg/errs"
)

// RateLimiter enforces a per-identifier sliding-window request budget.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	window    time.Duration
	hits      map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per
// identifier per minute. 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		window:    time.Minute,
		hits:      make(map[string][]time.Time),
	}
}

// Allow records a request for id and reports whether it fits the
// budget. Rejected requests are not recorded.
func (r *RateLimiter) Allow(id string) bool {
	if r.perMinute <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)
	recent := r.hits[id][:0]
	for _, t := range r.hits[id] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.perMinute {
		r.hits[id] = recent
		return false
	}
	r.hits[id] = append(recent, now)
	return true
}

// Check is Allow as an error: it returns a rate-limited error when
// the budget is exhausted.
func (r *RateLimiter) Check(id string) error {
	if r.Allow(id) {
		return nil
	}
	return errs.New(errs.KindRateLimited, "sender %q exceeded %d requests per minute", id, r.perMinute).
		WithData("sender_id", id).
		WithData("limit", r.perMinute)
}

// Remaining returns how many requests id has left in the window.
func (r *RateLimiter) Remaining(id string) int {
	if r.perMinute <= 0 {
		return -1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, t := range r.hits[id] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= r.perMinute {
		return 0
	}
	return r.perMinute - count
}
