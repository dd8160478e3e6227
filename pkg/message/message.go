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

// Package message defines the internal message value type exchanged
// between agents, with JSON-RPC 2.0 wire compatibility.
//
// Messages are value-typed: they move between components by copy, and
// only the receiving subsystem mutates its copy (to set the routed
// receiver or attach a task id).
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/pkg/errs"
)

// Type classifies a message.
type Type string

const (
	TypeText         Type = "text"
	TypeTask         Type = "task"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeQuery        Type = "query"
	TypeCommand      Type = "command"
	TypeJSONRPC      Type = "jsonrpc"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeTask, TypeResponse, TypeNotification, TypeQuery, TypeCommand, TypeJSONRPC:
		return true
	}
	return false
}

// Priority orders messages: low < normal < high < urgent.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Clamp bounds p to the valid [low, urgent] range.
func (p Priority) Clamp() Priority {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityUrgent {
		return PriorityUrgent
	}
	return p
}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// MethodKey is the metadata key reserved for the JSON-RPC method name.
// It is stripped from params metadata on conversion and restored on
// parse, so it does not survive a round-trip inside Metadata.
const MethodKey = "method"

// DefaultMethod is the JSON-RPC method used when none is recorded.
const DefaultMethod = "message/send"

// Message is the internal representation of a routed message.
type Message struct {
	ID               string         `json:"id"`
	JSONRPCID        any            `json:"jsonrpc_id,omitempty"`
	SenderID         string         `json:"sender_id"`
	SenderDID        string         `json:"sender_did,omitempty"`
	ReceiverID       string         `json:"receiver_id"`
	ReceiverDID      string         `json:"receiver_did,omitempty"`
	Content          any            `json:"content"`
	Type             Type           `json:"message_type"`
	Priority         Priority       `json:"priority"`
	Metadata         map[string]any `json:"metadata"`
	Timestamp        time.Time      `json:"timestamp"`
	Encrypted        bool           `json:"encrypted"`
	Signature        string         `json:"signature,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	TaskID           string         `json:"task_id,omitempty"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
}

// New creates a message with a fresh id, normal priority, and the
// current timestamp.
func New(senderID, receiverID string, content any, typ Type) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		Priority:   PriorityNormal,
		Metadata:   make(map[string]any),
		Timestamp:  time.Now(),
	}
}

// Traceable reports whether this message type requires a non-empty
// sender for audit purposes.
func (m Message) Traceable() bool {
	switch m.Type {
	case TypeTask, TypeCommand, TypeQuery:
		return true
	}
	return false
}

// ToJSONRPC converts the message to a JSON-RPC 2.0 request object.
// The method comes from the reserved "method" metadata key, defaulting
// to "message/send"; the remaining metadata travels in params.
func (m Message) ToJSONRPC() map[string]any {
	method := DefaultMethod
	if v, ok := m.Metadata[MethodKey].(string); ok && v != "" {
		method = v
	}

	meta := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		if k != MethodKey {
			meta[k] = v
		}
	}

	id := m.JSONRPCID
	if id == nil {
		id = m.ID
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params": map[string]any{
			"sender_id":   m.SenderID,
			"receiver_id": m.ReceiverID,
			"content":     m.Content,
			"type":        string(m.Type),
			"priority":    int(m.Priority),
			"metadata":    meta,
		},
	}
}

// FromJSONRPC creates a message from a JSON-RPC 2.0 request object.
// The method name is preserved under the reserved "method" metadata key.
func FromJSONRPC(data map[string]any) (Message, error) {
	params, _ := data["params"].(map[string]any)
	if params == nil {
		params = make(map[string]any)
	}

	meta := make(map[string]any)
	if pm, ok := params["metadata"].(map[string]any); ok {
		for k, v := range pm {
			meta[k] = v
		}
	}
	method := DefaultMethod
	if v, ok := data["method"].(string); ok && v != "" {
		method = v
	}
	meta[MethodKey] = method

	typ := TypeText
	if v, ok := params["type"].(string); ok && v != "" {
		typ = Type(v)
		if !typ.Valid() {
			return Message{}, errs.New(errs.KindInvalidParams, "unknown message type %q", v)
		}
	}

	priority := PriorityNormal
	switch v := params["priority"].(type) {
	case float64:
		priority = Priority(int(v))
	case int:
		priority = Priority(v)
	}
	if priority != priority.Clamp() {
		return Message{}, errs.New(errs.KindInvalidParams, "priority %d out of range", priority)
	}

	senderID, _ := params["sender_id"].(string)
	receiverID, _ := params["receiver_id"].(string)

	return Message{
		ID:         uuid.NewString(),
		JSONRPCID:  data["id"],
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    params["content"],
		Type:       typ,
		Priority:   priority,
		Metadata:   meta,
		Timestamp:  time.Now(),
	}, nil
}

// ToMap converts the message to the flat internal wire shape.
func (m Message) ToMap() map[string]any {
	return map[string]any{
		"id":                m.ID,
		"jsonrpc_id":        m.JSONRPCID,
		"sender_id":         m.SenderID,
		"sender_did":        m.SenderDID,
		"receiver_id":       m.ReceiverID,
		"receiver_did":      m.ReceiverDID,
		"content":           m.Content,
		"message_type":      string(m.Type),
		"priority":          int(m.Priority),
		"metadata":          m.Metadata,
		"timestamp":         m.Timestamp.Format(time.RFC3339Nano),
		"encrypted":         m.Encrypted,
		"signature":         m.Signature,
		"requires_approval": m.RequiresApproval,
		"task_id":           m.TaskID,
		"correlation_id":    m.CorrelationID,
	}
}
