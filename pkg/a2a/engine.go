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

package a2a

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/jsonrpc"
	"github.com/relaymesh/relaymesh/pkg/message"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

const storeKeyPrefix = "task:"

// SendParams are the parameters of the tasks/send method.
type SendParams struct {
	Task        map[string]any `json:"task"`
	TargetAgent string         `json:"target_agent"`
	Priority    int            `json:"priority"`
	SenderID    string         `json:"sender_id"`
}

// Engine owns the task table and implements the A2A JSON-RPC methods.
type Engine struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	router *routing.MessageRouter
	store  storage.Store
	bus    *eventbus.Bus
	logger *slog.Logger
}

// NewEngine creates an engine and reloads persisted tasks from store.
func NewEngine(router *routing.MessageRouter, store storage.Store, bus *eventbus.Bus, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		tasks:  make(map[string]*Task),
		router: router,
		store:  store,
		bus:    bus,
		logger: logger,
	}
	if store != nil {
		keys, err := store.Keys(storeKeyPrefix)
		if err != nil {
			return nil, errs.Wrap(errs.KindFatal, err, "load tasks")
		}
		for _, key := range keys {
			var t Task
			if ok, err := storage.GetJSON(store, key, &t); err == nil && ok {
				e.tasks[t.ID] = &t
			}
		}
	}
	return e, nil
}

// Mount registers the A2A methods on the JSON-RPC engine.
func (e *Engine) Mount(rpc *jsonrpc.Engine) {
	rpc.Register("tasks/send", e.handleSend)
	rpc.Register("tasks/status", e.handleStatus)
	rpc.Register("tasks/cancel", e.handleCancel)
}

func (e *Engine) handleSend(ctx context.Context, params map[string]any) (any, error) {
	var p SendParams
	if err := jsonrpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.TargetAgent == "" {
		return nil, errs.New(errs.KindInvalidParams, "target_agent is required")
	}
	task, err := e.Send(ctx, p)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": task.ID, "status": string(task.Status)}, nil
}

// Send creates a task, persists it as pending, and routes it to the
// target agent. A routing failure marks the task failed; the task
// record survives either way.
func (e *Engine) Send(ctx context.Context, p SendParams) (*Task, error) {
	now := time.Now()
	task := &Task{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		SenderID:    p.SenderID,
		TargetAgent: p.TargetAgent,
		Payload:     p.Task,
		Priority:    int(message.Priority(p.Priority).Clamp()),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.tasks[task.ID] = task
	e.mu.Unlock()
	e.persist(task)
	e.emit(eventbus.TaskCreated, task)

	msg := message.New(p.SenderID, p.TargetAgent, p.Task, message.TypeTask)
	msg.Priority = message.Priority(task.Priority)
	msg.TaskID = task.ID

	if _, err := e.router.Route(ctx, msg); err != nil {
		e.logger.Warn("task routing failed", "task_id", task.ID, "error", err)
		if _, serr := e.UpdateStatus(task.ID, StatusFailed, nil, err.Error()); serr != nil {
			e.logger.Error("mark task failed", "task_id", task.ID, "error", serr)
		}
	}
	return e.get(task.ID)
}

func (e *Engine) handleStatus(_ context.Context, params map[string]any) (any, error) {
	id, _ := params["task_id"].(string)
	if id == "" {
		return nil, errs.New(errs.KindInvalidParams, "task_id is required")
	}
	task, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"task_id":    task.ID,
		"status":     string(task.Status),
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if task.Result != nil {
		out["result"] = task.Result
	}
	if task.Error != "" {
		out["error"] = task.Error
	}
	return out, nil
}

func (e *Engine) handleCancel(_ context.Context, params map[string]any) (any, error) {
	id, _ := params["task_id"].(string)
	if id == "" {
		return nil, errs.New(errs.KindInvalidParams, "task_id is required")
	}
	task, err := e.Cancel(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task_id": task.ID, "status": string(task.Status)}, nil
}

// Get returns a copy of the task.
func (e *Engine) Get(id string) (*Task, error) {
	return e.get(id)
}

func (e *Engine) get(id string) (*Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "task %q not found", id)
	}
	return t.clone(), nil
}

// List returns copies of all tasks, newest first.
func (e *Engine) List() []*Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.clone())
	}
	sortTasks(out)
	return out
}

// Cancel transitions the task to cancelled. Cancelling a terminal
// task is an invalid-state error.
func (e *Engine) Cancel(id string) (*Task, error) {
	return e.UpdateStatus(id, StatusCancelled, nil, "")
}

// UpdateStatus is the single mutation point for task state. It
// validates the lifecycle transition, stamps updated_at, persists, and
// emits the matching event.
func (e *Engine) UpdateStatus(id string, to TaskStatus, result map[string]any, errMsg string) (*Task, error) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "task %q not found", id)
	}
	if !canTransition(t.Status, to) {
		from := t.Status
		e.mu.Unlock()
		return nil, errs.New(errs.KindInvalidState,
			"task %q cannot transition %s -> %s", id, from, to).
			WithData("from", string(from)).
			WithData("to", string(to))
	}

	t.Status = to
	if result != nil {
		t.Result = result
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	t.UpdatedAt = time.Now()
	out := t.clone()
	e.mu.Unlock()

	e.persist(out)
	switch to {
	case StatusCompleted:
		e.emit(eventbus.TaskCompleted, out)
	case StatusFailed:
		e.emit(eventbus.TaskFailed, out)
	}
	return out, nil
}

func (e *Engine) persist(t *Task) {
	if e.store == nil {
		return
	}
	_ = storage.SetJSON(e.store, storeKeyPrefix+t.ID, t)
}

func (e *Engine) emit(typ eventbus.Type, t *Task) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(eventbus.New(typ, map[string]any{
		"task_id":      t.ID,
		"status":       string(t.Status),
		"target_agent": t.TargetAgent,
	}))
}

func sortTasks(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
