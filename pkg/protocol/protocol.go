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

// Package protocol multiplexes messages across wire protocols. It
// detects which protocol a message belongs to, dispatches it to the
// registered handler, and converts messages between wire shapes.
package protocol

import (
	"context"
	"sync"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
)

// Type names a wire protocol.
type Type string

const (
	TypeJSONRPC   Type = "jsonrpc"
	TypeA2A       Type = "a2a"
	TypeMCP       Type = "mcp"
	TypeInternal  Type = "internal"
	TypeREST      Type = "rest"
	TypeWebSocket Type = "websocket"
)

// Valid reports whether t is a known protocol.
func (t Type) Valid() bool {
	switch t {
	case TypeJSONRPC, TypeA2A, TypeMCP, TypeInternal, TypeREST, TypeWebSocket:
		return true
	}
	return false
}

// Handler processes messages for one protocol.
type Handler interface {
	Handle(ctx context.Context, msg message.Message) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg message.Message) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg message.Message) (any, error) {
	return f(ctx, msg)
}

// Router dispatches messages to protocol handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRouter creates an empty protocol router.
func NewRouter() *Router {
	return &Router{handlers: make(map[Type]Handler)}
}

// RegisterHandler installs the handler for a protocol, replacing any
// previous one.
func (r *Router) RegisterHandler(t Type, h Handler) error {
	if !t.Valid() {
		return errs.New(errs.KindInvalidParams, "unknown protocol %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

// Route detects the message's protocol and dispatches it.
func (r *Router) Route(ctx context.Context, msg message.Message) (any, error) {
	return r.RouteTo(ctx, msg, Detect(msg))
}

// RouteTo dispatches the message to the named protocol's handler,
// bypassing detection.
func (r *Router) RouteTo(ctx context.Context, msg message.Message, t Type) (any, error) {
	if !t.Valid() {
		return nil, errs.New(errs.KindInvalidParams, "unknown protocol %q", t)
	}
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindNoRoute, "no handler for protocol %q", t).
			WithData("protocol", string(t))
	}
	return h.Handle(ctx, msg)
}

// Detect infers the message's protocol. An explicit metadata hint
// wins; otherwise a JSON-RPC id marks jsonrpc, a task id marks a2a,
// and everything else is internal.
func Detect(msg message.Message) Type {
	if v, ok := msg.Metadata["protocol"].(string); ok {
		if t := Type(v); t.Valid() {
			return t
		}
	}
	if msg.JSONRPCID != nil || msg.Type == message.TypeJSONRPC {
		return TypeJSONRPC
	}
	if msg.TaskID != "" {
		return TypeA2A
	}
	return TypeInternal
}

// Convert renders the message in the target protocol's wire shape
// without mutating the message.
func Convert(msg message.Message, target Type) (map[string]any, error) {
	switch target {
	case TypeJSONRPC, TypeA2A:
		return msg.ToJSONRPC(), nil
	case TypeMCP, TypeInternal, TypeREST, TypeWebSocket:
		return msg.ToMap(), nil
	}
	return nil, errs.New(errs.KindInvalidParams, "unknown protocol %q", target)
}
