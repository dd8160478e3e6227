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

// Package errs defines the error taxonomy shared by every Relaymesh
// component. Each error carries a stable machine-readable kind that the
// JSON-RPC boundary maps to wire codes; messages are human-readable and
// never include stack traces.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a stable identifier for a class of failure.
type Kind string

const (
	// KindNotFound means an identifier did not resolve to a record.
	KindNotFound Kind = "not_found"

	// KindDuplicate means an identifier is already taken.
	KindDuplicate Kind = "duplicate_identifier"

	// KindInvalidState means the operation is illegal in the record's
	// current state, e.g. cancelling a completed task.
	KindInvalidState Kind = "invalid_state"

	// KindInvalidParams means an inbound request violated its schema.
	KindInvalidParams Kind = "invalid_params"

	// KindNoRoute means the router found no target for a message.
	KindNoRoute Kind = "no_route"

	// KindRateLimited means the caller exceeded its request budget.
	KindRateLimited Kind = "rate_limited"

	// KindApprovalRejected means a human operator rejected the message.
	KindApprovalRejected Kind = "approval_rejected"

	// KindApprovalExpired means the approval deadline passed undecided.
	KindApprovalExpired Kind = "approval_expired"

	// KindTransient means an external call failed and is safe to retry.
	KindTransient Kind = "transient"

	// KindFatal means an invariant was violated; abort the operation.
	KindFatal Kind = "fatal"
)

// Error is the typed error used across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

// Error returns the human-readable message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithData attaches structured detail to the error and returns it.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// KindOf returns the kind of err, or KindFatal for untyped errors.
// A nil error has no kind and returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool { return Is(err, KindTransient) }
