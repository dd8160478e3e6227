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
	"encoding/json"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
)

// Validator checks inbound messages before routing.
type Validator struct {
	maxMessageSize int
}

// NewValidator creates a validator. maxMessageSize 0 disables the
// size check.
func NewValidator(maxMessageSize int) *Validator {
	return &Validator{maxMessageSize: maxMessageSize}
}

// Validate rejects malformed or oversized messages. Traceable message
// types (task, command, query) must carry a sender.
func (v *Validator) Validate(msg message.Message) error {
	if !msg.Type.Valid() {
		return errs.New(errs.KindInvalidParams, "unknown message type %q", msg.Type)
	}
	if msg.Priority != msg.Priority.Clamp() {
		return errs.New(errs.KindInvalidParams, "priority %d out of range", msg.Priority)
	}
	if msg.Traceable() && msg.SenderID == "" {
		return errs.New(errs.KindInvalidParams, "%s messages require a sender_id", msg.Type)
	}

	if v.maxMessageSize > 0 && msg.Content != nil {
		encoded, err := json.Marshal(msg.Content)
		if err != nil {
			return errs.Wrap(errs.KindInvalidParams, err, "content is not serializable")
		}
		if len(encoded) > v.maxMessageSize {
			return errs.New(errs.KindInvalidParams,
				"content size %d exceeds limit %d", len(encoded), v.maxMessageSize).
				WithData("size", len(encoded)).
				WithData("limit", v.maxMessageSize)
		}
	}
	return nil
}
