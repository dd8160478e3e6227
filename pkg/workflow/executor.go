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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/relaymesh/pkg/errs"
	"github.com/relaymesh/relaymesh/pkg/message"
	"github.com/relaymesh/relaymesh/pkg/routing"
)

const defaultMaxLoops = 100

// executor walks a workflow's steps against a mutable execution
// context. The context map is shared across steps; parallel branches
// synchronize writes through the executor lock.
type executor struct {
	router  *routing.MessageRouter
	httpc   *http.Client
	celEnv  *cel.Env
	mu      sync.Mutex
	context map[string]any
}

func newExecutor(router *routing.MessageRouter, httpc *http.Client, execCtx map[string]any) (*executor, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, err, "build condition environment")
	}
	if execCtx == nil {
		execCtx = make(map[string]any)
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &executor{
		router:  router,
		httpc:   httpc,
		celEnv:  env,
		context: execCtx,
	}, nil
}

func (e *executor) snapshotContext() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]any, len(e.context))
	for k, v := range e.context {
		out[k] = v
	}
	return out
}

func (e *executor) setResult(key string, value any) {
	if key == "" {
		return
	}
	e.mu.Lock()
	e.context[key] = value
	e.mu.Unlock()
}

func (e *executor) runSteps(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.KindFatal, err, "workflow interrupted")
		}
		if err := e.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) runStep(ctx context.Context, step Step) error {
	switch step.Type {
	case StepAgentCall:
		return e.runAgentCall(ctx, step)
	case StepConditional:
		ok, err := e.evalCondition(step.Condition)
		if err != nil {
			return err
		}
		if ok {
			return e.runSteps(ctx, step.Then)
		}
		return e.runSteps(ctx, step.Else)
	case StepLoop:
		return e.runLoop(ctx, step)
	case StepDelay:
		return e.runDelay(ctx, step)
	case StepParallel:
		return e.runParallel(ctx, step)
	case StepWebhook:
		return e.runWebhook(ctx, step)
	}
	return errs.New(errs.KindInvalidParams, "step %q has unknown type %q", step.ID, step.Type)
}

func (e *executor) runAgentCall(ctx context.Context, step Step) error {
	payload := make(map[string]any, len(step.Payload)+1)
	for k, v := range step.Payload {
		payload[k] = v
	}
	payload["workflow_context"] = e.snapshotContext()

	msg := message.New("workflow", step.AgentID, payload, message.TypeTask)
	if step.AgentID == "" && step.Capability != "" {
		msg.Metadata["required_capability"] = step.Capability
	}

	targets, err := e.router.Route(ctx, msg)
	if err != nil {
		return errs.Wrap(errs.KindOf(err), err, "step %q agent call failed", step.ID)
	}
	e.setResult(step.ResultKey, map[string]any{"delivered_to": targets})
	return nil
}

func (e *executor) evalCondition(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	ast, iss := e.celEnv.Compile(expr)
	if iss.Err() != nil {
		return false, errs.Wrap(errs.KindInvalidParams, iss.Err(), "condition does not compile")
	}
	prg, err := e.celEnv.Program(ast)
	if err != nil {
		return false, errs.Wrap(errs.KindInvalidParams, err, "condition does not compile")
	}
	out, _, err := prg.Eval(map[string]any{"context": e.snapshotContext()})
	if err != nil {
		return false, errs.Wrap(errs.KindInvalidParams, err, "condition evaluation failed")
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errs.New(errs.KindInvalidParams, "condition %q is not boolean", expr)
	}
	return b, nil
}

func (e *executor) runLoop(ctx context.Context, step Step) error {
	max := step.MaxLoops
	if max <= 0 {
		max = defaultMaxLoops
	}
	for i := 0; i < max; i++ {
		ok, err := e.evalCondition(step.Condition)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		e.setResult("loop_iteration", i)
		if err := e.runSteps(ctx, step.Body); err != nil {
			return err
		}
	}
	return nil
}

func (e *executor) runDelay(ctx context.Context, step Step) error {
	if step.DelayMS <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(step.DelayMS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindFatal, ctx.Err(), "delay interrupted")
	}
}

func (e *executor) runParallel(ctx context.Context, step Step) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, branch := range step.Branches {
		g.Go(func() error {
			return e.runSteps(gctx, branch)
		})
	}
	return g.Wait()
}

func (e *executor) runWebhook(ctx context.Context, step Step) error {
	if step.URL == "" {
		return errs.New(errs.KindInvalidParams, "step %q has no webhook url", step.ID)
	}
	body, err := json.Marshal(map[string]any{
		"step_id": step.ID,
		"payload": step.Payload,
		"context": e.snapshotContext(),
	})
	if err != nil {
		return errs.Wrap(errs.KindFatal, err, "encode webhook payload")
	}

	err = errs.Retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, step.URL, bytes.NewReader(body))
		if err != nil {
			return errs.Wrap(errs.KindInvalidParams, err, "build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := e.httpc.Do(req)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "webhook call failed")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return errs.New(errs.KindTransient, "webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return errs.New(errs.KindFatal, "webhook returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("step %q: %w", step.ID, err)
	}
	e.setResult(step.ResultKey, map[string]any{"status": "sent"})
	return nil
}
