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

package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/relaymesh/relaymesh/pkg/errs"
)

// Handler processes one method call. Returning an error produces a
// JSON-RPC error response; any other return becomes the result.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Engine dispatches JSON-RPC 2.0 requests to registered method
// handlers. It accepts single requests, notifications, and batches.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewEngine creates an empty engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register installs a handler for the method name, replacing any
// previous handler.
func (e *Engine) Register(method string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method] = h
}

// Unregister removes the method's handler.
func (e *Engine) Unregister(method string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, method)
}

// Methods returns the registered method names.
func (e *Engine) Methods() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.handlers))
	for m := range e.handlers {
		out = append(out, m)
	}
	return out
}

func (e *Engine) handler(method string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[method]
	return h, ok
}

// DecodeParams decodes a params map into a typed struct, reporting
// unknown or ill-typed fields as invalid params.
func DecodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: false,
	})
	if err != nil {
		return errs.Wrap(errs.KindFatal, err, "build params decoder")
	}
	if err := dec.Decode(params); err != nil {
		return errs.Wrap(errs.KindInvalidParams, err, "invalid params")
	}
	return nil
}

// HandleRaw processes a raw JSON-RPC payload (single or batch) and
// returns the encoded response. hasReply is false when nothing is to
// be written back (notification or all-notification batch).
func (e *Engine) HandleRaw(ctx context.Context, payload []byte) (reply []byte, hasReply bool) {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(payload, &batch); err != nil {
			return e.encode(errorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
		}
		if len(batch) == 0 {
			return e.encode(errorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "empty batch"}))
		}
		responses := make([]Response, 0, len(batch))
		for _, item := range batch {
			if resp, ok := e.handleOne(ctx, item); ok {
				responses = append(responses, resp)
			}
		}
		if len(responses) == 0 {
			return nil, false
		}
		return e.encode(responses)
	}

	resp, ok := e.handleOne(ctx, payload)
	if !ok {
		return nil, false
	}
	return e.encode(resp)
}

// handleOne processes one request object. ok is false for
// notifications, which produce no response.
func (e *Engine) handleOne(ctx context.Context, payload []byte) (Response, bool) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}), true
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return Response{}, false
		}
		return errorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "invalid request"}), true
	}

	h, found := e.handler(req.Method)
	if !found {
		if req.IsNotification() {
			return Response{}, false
		}
		return errorResponse(req.ID, &Error{
			Code:    CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		}), true
	}

	params := make(map[string]any)
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			if req.IsNotification() {
				return Response{}, false
			}
			return errorResponse(req.ID, &Error{
				Code:    CodeInvalidParams,
				Message: "params must be an object",
			}), true
		}
	}

	result, err := h(ctx, params)
	if req.IsNotification() {
		if err != nil {
			e.logger.Debug("notification handler failed",
				"method", req.Method, "error", err)
		}
		return Response{}, false
	}
	if err != nil {
		return errorResponse(req.ID, WireError(err)), true
	}
	return resultResponse(req.ID, result), true
}

func (e *Engine) encode(v any) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("encode jsonrpc response", "error", err)
		fallback := errorResponse(nil, &Error{Code: CodeInternalError, Message: "internal error"})
		data, _ = json.Marshal(fallback)
	}
	return data, true
}
