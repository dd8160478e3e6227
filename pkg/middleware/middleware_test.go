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

package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
)

func TestRateLimiterBudget(t *testing.T) {
	rl := NewRateLimiter(3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a1"), "request %d", i)
	}
	assert.False(t, rl.Allow("a1"))

	// Budgets are per identifier.
	assert.True(t, rl.Allow("a2"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		require.True(t, rl.Allow("a1"))
	}
	assert.Equal(t, -1, rl.Remaining("a1"))
}

func TestRateLimiterCheck(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Check("a1"))

	err := rl.Check("a1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRateLimited))

	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "a1", typed.Data["sender_id"])
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.Equal(t, 2, rl.Remaining("a1"))
	rl.Allow("a1")
	assert.Equal(t, 1, rl.Remaining("a1"))
	rl.Allow("a1")
	assert.Equal(t, 0, rl.Remaining("a1"))
}

func TestRejectedRequestsDoNotConsumeBudget(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow("a1")
	for i := 0; i < 10; i++ {
		rl.Allow("a1")
	}
	assert.Equal(t, 0, rl.Remaining("a1"))
}

func TestValidatorType(t *testing.T) {
	v := NewValidator(0)

	msg := message.New("a1", "a2", "x", message.Type("bogus"))
	err := v.Validate(msg)
	assert.True(t, errs.Is(err, errs.KindInvalidParams))

	assert.NoError(t, v.Validate(message.New("a1", "a2", "x", message.TypeText)))
}

func TestValidatorTraceableSender(t *testing.T) {
	v := NewValidator(0)

	for _, typ := range []message.Type{message.TypeTask, message.TypeCommand, message.TypeQuery} {
		msg := message.New("", "a2", "x", typ)
		err := v.Validate(msg)
		assert.True(t, errs.Is(err, errs.KindInvalidParams), "type %s", typ)
	}

	// Plain text without a sender is fine.
	assert.NoError(t, v.Validate(message.New("", "a2", "x", message.TypeText)))
}

func TestValidatorSize(t *testing.T) {
	v := NewValidator(16)

	small := message.New("a1", "a2", "ok", message.TypeText)
	assert.NoError(t, v.Validate(small))

	big := message.New("a1", "a2", strings.Repeat("x", 64), message.TypeText)
	err := v.Validate(big)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestValidatorPriority(t *testing.T) {
	v := NewValidator(0)
	msg := message.New("a1", "a2", "x", message.TypeText)
	msg.Priority = 9
	err := v.Validate(msg)
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}
