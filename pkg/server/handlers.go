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

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/manifest"
	"github.com/relaymesh/relaymesh/pkg/message"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/workflow"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.opts.Logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindDuplicate:
		status = http.StatusConflict
	case errs.KindInvalidParams:
		status = http.StatusBadRequest
	case errs.KindInvalidState, errs.KindApprovalRejected, errs.KindApprovalExpired:
		status = http.StatusConflict
	case errs.KindNoRoute:
		status = http.StatusBadGateway
	case errs.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	s.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"kind":  string(errs.KindOf(err)),
	})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		s.writeError(w, errs.Wrap(errs.KindInvalidParams, err, "invalid request body"))
		return false
	}
	return true
}

// --- JSON-RPC endpoint ---

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.writeError(w, errs.Wrap(errs.KindInvalidParams, err, "read request body"))
		return
	}
	reply, hasReply := s.rpc.HandleRaw(r.Context(), payload)
	if !hasReply {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply)
}

func (s *Server) rpcSendMessage(ctx context.Context, params map[string]any) (any, error) {
	msg, err := message.FromJSONRPC(map[string]any{
		"method": message.DefaultMethod,
		"params": params,
	})
	if err != nil {
		return nil, err
	}
	targets, err := s.Process(ctx, msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message_id": msg.ID, "delivered_to": targets}, nil
}

func (s *Server) rpcListAgents(_ context.Context, _ map[string]any) (any, error) {
	return s.opts.Agents.List(), nil
}

func (s *Server) rpcGetAgent(_ context.Context, params map[string]any) (any, error) {
	id, _ := params["agent_id"].(string)
	if id == "" {
		return nil, errs.New(errs.KindInvalidParams, "agent_id is required")
	}
	return s.opts.Agents.Get(id)
}

// --- health and events ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.opts.Agents.Count(),
	})
}

// handleEvents streams bus events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	filter := eventbus.Type(r.URL.Query().Get("type"))
	events := make(chan []byte, 64)
	handler := func(e eventbus.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		select {
		case events <- data:
		default: // slow client, drop
		}
	}
	unsubscribe := s.subscribeEvents(filter, handler)
	defer unsubscribe()

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-events:
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// subscribeEvents registers the handler for one event type, or every
// declared type when filter is empty, returning an unsubscribe func.
func (s *Server) subscribeEvents(filter eventbus.Type, handler eventbus.Handler) func() {
	types := []eventbus.Type{filter}
	if filter == "" {
		types = eventbus.AllTypes()
	}
	ids := make(map[eventbus.Type]int, len(types))
	for _, t := range types {
		ids[t] = s.opts.Bus.Subscribe(t, handler)
	}
	return func() {
		for t, id := range ids {
			s.opts.Bus.Unsubscribe(t, id)
		}
	}
}

// --- agents ---

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Agents.List())
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if !s.decodeBody(w, r, &a) {
		return
	}
	registered, err := s.opts.Agents.Register(a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registered)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.opts.Agents.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          *string            `json:"name"`
		Role          *string            `json:"role"`
		Status        *string            `json:"status"`
		Capabilities  []string           `json:"capabilities"`
		PublicKey     *string            `json:"public_key"`
		State         map[string]any     `json:"state"`
		Metrics       map[string]float64 `json:"metrics"`
		SecurityLevel *string            `json:"security_level"`
		AIProvider    *string            `json:"ai_provider"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	patch := agent.Patch{
		Name:          body.Name,
		Role:          body.Role,
		Capabilities:  body.Capabilities,
		PublicKey:     body.PublicKey,
		State:         body.State,
		Metrics:       body.Metrics,
		SecurityLevel: body.SecurityLevel,
		AIProvider:    body.AIProvider,
	}
	if body.Status != nil {
		status := agent.Status(*body.Status)
		patch.Status = &status
	}
	updated, err := s.opts.Agents.Update(chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := s.opts.Agents.Unregister(id)
	s.opts.Manifests.Delete(id)
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// --- manifests ---

func (s *Server) handleListManifests(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Manifests.ListAll())
}

func (s *Server) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	var m manifest.Manifest
	if !s.decodeBody(w, r, &m) {
		return
	}
	m.AgentID = chi.URLParam(r, "agentID")
	stored, err := s.opts.Manifests.CreateOrReplace(m)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.opts.Manifests.Get(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteManifest(w http.ResponseWriter, r *http.Request) {
	removed := s.opts.Manifests.Delete(chi.URLParam(r, "agentID"))
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// --- messages and routing ---

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SenderID   string         `json:"sender_id"`
		ReceiverID string         `json:"receiver_id"`
		Content    any            `json:"content"`
		Type       string         `json:"type"`
		Priority   int            `json:"priority"`
		Metadata   map[string]any `json:"metadata"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	typ := message.TypeText
	if body.Type != "" {
		typ = message.Type(body.Type)
	}
	msg := message.New(body.SenderID, body.ReceiverID, body.Content, typ)
	if body.Priority != 0 {
		msg.Priority = message.Priority(body.Priority).Clamp()
	}
	for k, v := range body.Metadata {
		msg.Metadata[k] = v
	}

	targets, err := s.Process(r.Context(), msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message_id":   msg.ID,
		"delivered_to": targets,
	})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		s.writeError(w, errs.New(errs.KindInvalidParams, "capability query parameter is required"))
		return
	}
	opts := routing.SelectOptions{
		Strategy: routing.Strategy(r.URL.Query().Get("strategy")),
	}
	if v := r.URL.Query().Get("max_cost"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MaxCost = &f
		}
	}
	if v := r.URL.Query().Get("max_latency"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.MaxLatency = &f
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	s.writeJSON(w, http.StatusOK, s.opts.Selector.Rank(capability, opts, limit))
}

// --- approvals ---

func (s *Server) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Approvals.ListPending())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DecidedBy string `json:"decided_by"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")
	if !s.opts.Approvals.Approve(id, body.DecidedBy) {
		s.writeError(w, errs.New(errs.KindInvalidState, "approval %q is not pending", id))
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.HITLDecisions.WithLabelValues("approved").Inc()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"approval_id": id, "status": "approved"})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DecidedBy string `json:"decided_by"`
		Reason    string `json:"reason"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")
	if !s.opts.Approvals.Reject(id, body.DecidedBy, body.Reason) {
		s.writeError(w, errs.New(errs.KindInvalidState, "approval %q is not pending", id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"approval_id": id, "status": "rejected"})
}

// --- learning ---

func (s *Server) handleLearningStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Learning.StatsAll())
}

func (s *Server) handleAggregate(w http.ResponseWriter, _ *http.Request) {
	applied := s.opts.Learning.Aggregate()
	s.writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

// --- workflows ---

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Workflows.List())
}

func (s *Server) handleRegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if !s.decodeBody(w, r, &wf) {
		return
	}
	stored, err := s.opts.Workflows.Register(wf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Context map[string]any `json:"context"`
	}
	if r.ContentLength > 0 {
		if !s.decodeBody(w, r, &body) {
			return
		}
	}
	exec, err := s.opts.Workflows.Execute(r.Context(), chi.URLParam(r, "id"), body.Context)
	if err != nil && exec == nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// --- tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Tasks.List())
}
