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

// Package jsonrpc implements a JSON-RPC 2.0 request engine: method
// dispatch, notification handling, batch processing, and the mapping
// from the internal error taxonomy to wire error codes.
package jsonrpc

import (
	"encoding/json"
	"errors"

	"github.com/relaymesh/relaymesh/pkg/errs"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Request is an incoming JSON-RPC 2.0 request. hasID distinguishes a
// request carrying "id": null from a notification with no id member.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
	hasID   bool
}

// UnmarshalJSON records whether the id member was present.
func (r *Request) UnmarshalJSON(data []byte) error {
	type request Request
	var raw request
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	*r = Request(raw)
	_, r.hasID = probe["id"]
	return nil
}

// IsNotification reports whether the request has no id member.
func (r *Request) IsNotification() bool {
	return !r.hasID
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

func resultResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

func errorResponse(id any, e *Error) Response {
	return Response{JSONRPC: "2.0", Error: e, ID: id}
}

// WireError converts an internal error to its JSON-RPC representation.
func WireError(err error) *Error {
	kind := errs.KindOf(err)
	var data map[string]any
	var typed *errs.Error
	errors.As(err, &typed)

	code := CodeInternalError
	switch kind {
	case errs.KindInvalidParams:
		code = CodeInvalidParams
	case errs.KindNotFound, errs.KindInvalidState, errs.KindNoRoute,
		errs.KindRateLimited, errs.KindApprovalRejected, errs.KindApprovalExpired:
		code = CodeServerError
		data = map[string]any{"kind": string(kind)}
		if typed != nil {
			for k, v := range typed.Data {
				data[k] = v
			}
		}
	}
	return &Error{Code: code, Message: err.Error(), Data: data}
}
