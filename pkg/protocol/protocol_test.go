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

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		msg  func() message.Message
		want Type
	}{
		{
			"explicit metadata hint wins",
			func() message.Message {
				m := message.New("a", "b", "x", message.TypeText)
				m.Metadata["protocol"] = "mcp"
				m.JSONRPCID = 1
				return m
			},
			TypeMCP,
		},
		{
			"invalid hint is ignored",
			func() message.Message {
				m := message.New("a", "b", "x", message.TypeText)
				m.Metadata["protocol"] = "smoke-signal"
				return m
			},
			TypeInternal,
		},
		{
			"jsonrpc id marks jsonrpc",
			func() message.Message {
				m := message.New("a", "b", "x", message.TypeText)
				m.JSONRPCID = "req-1"
				return m
			},
			TypeJSONRPC,
		},
		{
			"jsonrpc message type marks jsonrpc",
			func() message.Message {
				return message.New("a", "b", "x", message.TypeJSONRPC)
			},
			TypeJSONRPC,
		},
		{
			"task id marks a2a",
			func() message.Message {
				m := message.New("a", "b", "x", message.TypeTask)
				m.TaskID = "t1"
				return m
			},
			TypeA2A,
		},
		{
			"plain messages are internal",
			func() message.Message {
				return message.New("a", "b", "x", message.TypeText)
			},
			TypeInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.msg()))
		})
	}
}

func TestRouteDispatches(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.RegisterHandler(TypeInternal, HandlerFunc(
		func(_ context.Context, msg message.Message) (any, error) {
			return "handled:" + msg.SenderID, nil
		})))

	out, err := r.Route(context.Background(), message.New("a1", "a2", "x", message.TypeText))
	require.NoError(t, err)
	assert.Equal(t, "handled:a1", out)
}

func TestRouteToExplicitTarget(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.RegisterHandler(TypeMCP, HandlerFunc(
		func(_ context.Context, _ message.Message) (any, error) {
			return "mcp", nil
		})))

	// Detection would say internal; the explicit target wins.
	out, err := r.RouteTo(context.Background(), message.New("a1", "a2", "x", message.TypeText), TypeMCP)
	require.NoError(t, err)
	assert.Equal(t, "mcp", out)

	_, err = r.RouteTo(context.Background(), message.New("a1", "a2", "x", message.TypeText), "morse")
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestRouteNoHandler(t *testing.T) {
	r := NewRouter()
	_, err := r.Route(context.Background(), message.New("a1", "a2", "x", message.TypeText))
	assert.True(t, errs.Is(err, errs.KindNoRoute))
}

func TestRegisterHandlerRejectsUnknown(t *testing.T) {
	r := NewRouter()
	err := r.RegisterHandler("carrier-pigeon", nil)
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}

func TestConvertIsPure(t *testing.T) {
	msg := message.New("a1", "a2", "x", message.TypeText)
	msg.Metadata["k"] = "v"

	rpc, err := Convert(msg, TypeJSONRPC)
	require.NoError(t, err)
	assert.Equal(t, "2.0", rpc["jsonrpc"])

	flat, err := Convert(msg, TypeREST)
	require.NoError(t, err)
	assert.Equal(t, "a1", flat["sender_id"])

	// Conversion does not mutate the message.
	assert.Equal(t, "v", msg.Metadata["k"])
	assert.NotContains(t, msg.Metadata, "jsonrpc")

	_, err = Convert(msg, "morse")
	assert.True(t, errs.Is(err, errs.KindInvalidParams))
}
