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

// Package server exposes the coordination service over HTTP: the
// JSON-RPC endpoint, the admin REST surface, a server-sent-events
// stream of bus events, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaymesh/relaymesh/pkg/a2a"
	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/hitl"
	"github.com/relaymesh/relaymesh/pkg/identity"
	"github.com/relaymesh/relaymesh/pkg/jsonrpc"
	"github.com/relaymesh/relaymesh/pkg/learning"
	"github.com/relaymesh/relaymesh/pkg/manifest"
	"github.com/relaymesh/relaymesh/pkg/message"
	"github.com/relaymesh/relaymesh/pkg/middleware"
	"github.com/relaymesh/relaymesh/pkg/observability"
	"github.com/relaymesh/relaymesh/pkg/protocol"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/workflow"
)

// Options collects the wired components the server serves.
type Options struct {
	Addr      string
	Agents    *agent.Registry
	Manifests *manifest.Service
	Selector  *routing.CostAwareSelector
	Router    *routing.MessageRouter
	Tasks     *a2a.Engine
	Approvals *hitl.Queue
	Gate      *hitl.Middleware
	Learning  *learning.Engine
	Workflows *workflow.Engine
	Validator *middleware.Validator
	Limiter   *middleware.RateLimiter
	Identity  identity.Resolver
	Bus       *eventbus.Bus
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Logger    *slog.Logger

	MaxBodyBytes   int64
	MaxConnections int
}

// Server is the HTTP front of the coordination service.
type Server struct {
	opts      Options
	rpc       *jsonrpc.Engine
	protocols *protocol.Router
	http      *http.Server
}

// New builds the server, mounts the JSON-RPC methods, and assembles
// the route tree.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		opts:      opts,
		rpc:       jsonrpc.NewEngine(opts.Logger),
		protocols: protocol.NewRouter(),
	}
	s.mountRPC()
	s.mountProtocols()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if opts.MaxConnections > 0 {
		r.Use(chimw.Throttle(opts.MaxConnections))
	}
	r.Use(s.observe)

	r.Post("/rpc", s.handleRPC)
	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleRegisterAgent)
			r.Get("/{id}", s.handleGetAgent)
			r.Patch("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleUnregisterAgent)
		})
		r.Route("/manifests", func(r chi.Router) {
			r.Get("/", s.handleListManifests)
			r.Put("/{agentID}", s.handlePutManifest)
			r.Get("/{agentID}", s.handleGetManifest)
			r.Delete("/{agentID}", s.handleDeleteManifest)
		})
		r.Post("/messages", s.handleSendMessage)
		r.Get("/routing/rank", s.handleRank)
		r.Route("/approvals", func(r chi.Router) {
			r.Get("/", s.handleListApprovals)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
		})
		r.Route("/learning", func(r chi.Router) {
			r.Get("/stats", s.handleLearningStats)
			r.Post("/aggregate", s.handleAggregate)
		})
		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleRegisterWorkflow)
			r.Post("/{id}/execute", s.handleExecuteWorkflow)
		})
		r.Get("/tasks", s.handleListTasks)
	})

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// RPC exposes the JSON-RPC engine, mainly for tests and embedding.
func (s *Server) RPC() *jsonrpc.Engine {
	return s.rpc
}

// mountRPC registers the JSON-RPC method set.
func (s *Server) mountRPC() {
	if s.opts.Tasks != nil {
		s.opts.Tasks.Mount(s.rpc)
	}
	s.rpc.Register("message/send", s.rpcSendMessage)
	s.rpc.Register("agents/list", s.rpcListAgents)
	s.rpc.Register("agents/get", s.rpcGetAgent)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.opts.Logger.Info("server listening", "addr", s.opts.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// mountProtocols maps every protocol the service speaks onto the
// message pipeline. MCP is recognized but not served, so messages
// hinting at it fail with a no-route error.
func (s *Server) mountProtocols() {
	h := protocol.HandlerFunc(func(ctx context.Context, msg message.Message) (any, error) {
		return s.pipeline(ctx, msg)
	})
	for _, t := range []protocol.Type{
		protocol.TypeInternal,
		protocol.TypeJSONRPC,
		protocol.TypeA2A,
		protocol.TypeREST,
		protocol.TypeWebSocket,
	} {
		_ = s.protocols.RegisterHandler(t, h)
	}
}

// Process detects the inbound message's protocol and dispatches it
// through the pipeline, tracing the whole pass.
func (s *Server) Process(ctx context.Context, msg message.Message) ([]string, error) {
	if s.opts.Tracer != nil {
		var span trace.Span
		ctx, span = s.opts.Tracer.Start(ctx, "message.process",
			trace.WithAttributes(
				attribute.String("message.id", msg.ID),
				attribute.String("message.type", string(msg.Type)),
			))
		defer span.End()

		out, err := s.protocols.Route(ctx, msg)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		return out.([]string), nil
	}

	out, err := s.protocols.Route(ctx, msg)
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// pipeline runs one inbound message through the guard chain and the
// router: validation, sender identity checks, rate limiting, approval
// gating, then delivery.
func (s *Server) pipeline(ctx context.Context, msg message.Message) ([]string, error) {
	if s.opts.Validator != nil {
		if err := s.opts.Validator.Validate(msg); err != nil {
			return nil, err
		}
	}
	if err := s.resolveSender(&msg); err != nil {
		return nil, err
	}
	if s.opts.Limiter != nil && msg.SenderID != "" {
		if err := s.opts.Limiter.Check(msg.SenderID); err != nil {
			return nil, err
		}
	}
	if s.opts.Gate != nil {
		gated, err := s.opts.Gate.Process(ctx, msg)
		if err != nil {
			s.countDecision(err)
			return nil, err
		}
		msg = gated
	}

	targets, err := s.opts.Router.Route(ctx, msg)
	s.countRouted(err)
	return targets, err
}

// resolveSender checks a claimed sender DID against the resolver and
// annotates the message with its verification status.
func (s *Server) resolveSender(msg *message.Message) error {
	if s.opts.Identity == nil || msg.SenderDID == "" {
		return nil
	}
	doc, err := s.opts.Identity.Resolve(msg.SenderDID)
	if err != nil {
		return err
	}
	if doc.AgentID != "" && doc.AgentID != msg.SenderID {
		return errs.New(errs.KindInvalidParams,
			"did %q belongs to agent %q, not %q", msg.SenderDID, doc.AgentID, msg.SenderID)
	}
	meta := make(map[string]any, len(msg.Metadata)+1)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	meta["sender_verified"] = identity.Verified(*msg)
	msg.Metadata = meta
	return nil
}

func (s *Server) countRouted(err error) {
	if s.opts.Metrics == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	s.opts.Metrics.MessagesRouted.WithLabelValues(outcome).Inc()
}

func (s *Server) countDecision(err error) {
	if s.opts.Metrics == nil {
		return
	}
	switch errs.KindOf(err) {
	case errs.KindApprovalRejected:
		s.opts.Metrics.HITLDecisions.WithLabelValues("rejected").Inc()
	case errs.KindApprovalExpired:
		s.opts.Metrics.HITLDecisions.WithLabelValues("expired").Inc()
	}
}

// observe records request latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.opts.Metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
