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

package workflow

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/storage"
)

const storeKeyPrefix = "workflow:"

// Engine registers workflow definitions and runs executions.
type Engine struct {
	mu         sync.RWMutex
	workflows  map[string]*Workflow
	executions map[string]*Execution
	router     *routing.MessageRouter
	store      storage.Store
	bus        *eventbus.Bus
	httpc      *http.Client
	logger     *slog.Logger
}

// NewEngine creates a workflow engine and reloads persisted
// definitions from store.
func NewEngine(router *routing.MessageRouter, store storage.Store, bus *eventbus.Bus, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		workflows:  make(map[string]*Workflow),
		executions: make(map[string]*Execution),
		router:     router,
		store:      store,
		bus:        bus,
		logger:     logger,
	}
	if store != nil {
		keys, err := store.Keys(storeKeyPrefix)
		if err != nil {
			return nil, errs.Wrap(errs.KindFatal, err, "load workflows")
		}
		for _, key := range keys {
			var w Workflow
			if ok, err := storage.GetJSON(store, key, &w); err == nil && ok {
				e.workflows[w.ID] = &w
			}
		}
	}
	return e, nil
}

// Register validates and stores a workflow definition. Registering an
// existing id replaces it.
func (e *Engine) Register(w Workflow) (*Workflow, error) {
	if w.Name == "" {
		return nil, errs.New(errs.KindInvalidParams, "workflow name is required")
	}
	if len(w.Steps) == 0 {
		return nil, errs.New(errs.KindInvalidParams, "workflow needs at least one step")
	}
	if err := validateSteps(w.Steps); err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}

	stored := w
	e.mu.Lock()
	e.workflows[w.ID] = &stored
	e.mu.Unlock()

	if e.store != nil {
		_ = storage.SetJSON(e.store, storeKeyPrefix+w.ID, &stored)
	}
	return &stored, nil
}

func validateSteps(steps []Step) error {
	for _, s := range steps {
		if !s.Type.Valid() {
			return errs.New(errs.KindInvalidParams, "step %q has unknown type %q", s.ID, s.Type)
		}
		nested := [][]Step{s.Then, s.Else, s.Body}
		nested = append(nested, s.Branches...)
		for _, group := range nested {
			if err := validateSteps(group); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns a workflow definition.
func (e *Engine) Get(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.workflows[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "workflow %q not found", id)
	}
	out := *w
	return &out, nil
}

// List returns all definitions ordered by name.
func (e *Engine) List() []*Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Workflow, 0, len(e.workflows))
	for _, w := range e.workflows {
		c := *w
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the workflow synchronously and returns the finished
// execution record.
func (e *Engine) Execute(ctx context.Context, workflowID string, initial map[string]any) (*Execution, error) {
	w, err := e.Get(workflowID)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:         uuid.NewString(),
		WorkflowID: w.ID,
		Status:     ExecutionRunning,
		StartedAt:  time.Now(),
	}
	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	e.emit(eventbus.WorkflowStarted, w.ID, exec.ID, string(exec.Status))

	ex, err := newExecutor(e.router, e.httpc, initial)
	if err != nil {
		return nil, err
	}
	runErr := ex.runSteps(ctx, w.Steps)

	e.mu.Lock()
	exec.Context = ex.snapshotContext()
	exec.FinishedAt = time.Now()
	if runErr != nil {
		exec.Status = ExecutionFailed
		exec.Error = runErr.Error()
	} else {
		exec.Status = ExecutionCompleted
	}
	out := *exec
	e.mu.Unlock()

	e.emit(eventbus.WorkflowCompleted, w.ID, exec.ID, string(out.Status))
	if runErr != nil {
		e.logger.Warn("workflow failed", "workflow_id", w.ID, "execution_id", exec.ID, "error", runErr)
		return &out, runErr
	}
	return &out, nil
}

// Execution returns one execution record.
func (e *Engine) Execution(id string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.executions[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "execution %q not found", id)
	}
	out := *exec
	return &out, nil
}

func (e *Engine) emit(t eventbus.Type, workflowID, executionID, status string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(eventbus.New(t, map[string]any{
		"workflow_id":  workflowID,
		"execution_id": executionID,
		"status":       status,
	}))
}
