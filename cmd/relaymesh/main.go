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

// Command relaymesh runs the agent coordination service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/relaymesh/relaymesh/pkg/a2a"
	"github.com/relaymesh/relaymesh/pkg/agent"
	"github.com/relaymesh/relaymesh/pkg/config"
	"github.com/relaymesh/relaymesh/pkg/eventbus"
	"github.com/relaymesh/relaymesh/pkg/hitl"
	"github.com/relaymesh/relaymesh/pkg/identity"
	"github.com/relaymesh/relaymesh/pkg/learning"
	"github.com/relaymesh/relaymesh/pkg/logger"
	"github.com/relaymesh/relaymesh/pkg/manifest"
	"github.com/relaymesh/relaymesh/pkg/middleware"
	"github.com/relaymesh/relaymesh/pkg/observability"
	"github.com/relaymesh/relaymesh/pkg/routing"
	"github.com/relaymesh/relaymesh/pkg/server"
	"github.com/relaymesh/relaymesh/pkg/storage"
	"github.com/relaymesh/relaymesh/pkg/workflow"
)

var version = "dev"

type cli struct {
	Serve   serveCmd   `cmd:"" default:"1" help:"Run the coordination server."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

type versionCmd struct{}

func (versionCmd) Run() error {
	fmt.Println(version)
	return nil
}

type serveCmd struct {
	Config string `short:"c" help:"Path to a YAML config file." type:"path"`
	Trace  bool   `help:"Export spans to stderr."`
}

func (cmd *serveCmd) Run() error {
	cfg, err := config.Load(cmd.Config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logOut := os.Stderr
	if cfg.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer cleanup()
		logOut = file
	}
	logger.Init(logger.ParseLevel(cfg.LogLevel), logOut, "simple")
	log := logger.GetLogger()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage backend: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var traceOut *os.File
	if cmd.Trace {
		traceOut = os.Stderr
	}
	tracer, err := observability.NewTracer(traceWriter(traceOut))
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	bus := eventbus.NewBus()
	metrics := observability.NewMetrics()
	agents := agent.NewRegistry(cfg.MaxAgents, bus, store)

	// Keep the DID resolver in step with the registry.
	resolver := identity.NewStaticResolver()
	bus.Subscribe(eventbus.AgentCreated, func(e eventbus.Event) {
		a, ok := e.Payload["agent"].(*agent.Agent)
		if !ok || a.DID == "" {
			return
		}
		_ = resolver.Put(identity.Document{DID: a.DID, AgentID: a.ID, PublicKey: a.PublicKey})
	})
	bus.Subscribe(eventbus.AgentDeleted, func(e eventbus.Event) {
		if did, ok := e.Payload["did"].(string); ok && did != "" {
			resolver.Remove(did)
		}
	})

	manifests, err := manifest.NewService(store, bus)
	if err != nil {
		return err
	}
	selector := routing.NewCostAwareSelector(manifests)
	router := routing.NewMessageRouter(agents, selector, nil, bus)

	approvals := hitl.NewQueue(cfg.HITLTimeout(), store)
	if cfg.HITLEnabled {
		approvals.StartSweeper(time.Second)
		defer approvals.Stop()
	}
	gate := hitl.NewMiddleware(approvals, bus, cfg.HITLEnabled, cfg.HITLTimeout())

	var aggregator *learning.Aggregator
	if cfg.FRLEnabled {
		aggregator = learning.NewAggregator(cfg.FRLDPEpsilon)
	}
	calculator := learning.NewRewardCalculator(manifests)
	learners := learning.NewEngine(calculator, aggregator, bus, cfg.FRLEnabled, log)
	learners.StartAggregationLoop(cfg.FRLInterval())
	defer learners.Stop()

	tasks, err := a2a.NewEngine(router, store, bus, log)
	if err != nil {
		return err
	}
	workflows, err := workflow.NewEngine(router, store, bus, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:           cfg.Addr(),
		Agents:         agents,
		Manifests:      manifests,
		Selector:       selector,
		Router:         router,
		Tasks:          tasks,
		Approvals:      approvals,
		Gate:           gate,
		Learning:       learners,
		Workflows:      workflows,
		Validator:      middleware.NewValidator(cfg.MaxMessageSize),
		Limiter:        middleware.NewRateLimiter(cfg.RateLimitPerMinute),
		Identity:       resolver,
		Bus:            bus,
		Metrics:        metrics,
		Tracer:         tracer,
		Logger:         log,
		MaxBodyBytes:   int64(cfg.MaxMessageSize),
		MaxConnections: cfg.MaxConnections,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		// Only SIGINT and SIGTERM are notified; either way the exit
		// code signals an interrupted run.
		defer os.Exit(130)
		return nil
	}
}

func openStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "file":
		return storage.NewFileStore(cfg.StoragePath)
	case "sqlite":
		if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
			return nil, err
		}
		return storage.NewSQLiteStore(filepath.Join(cfg.StoragePath, "relaymesh.db"))
	default:
		return storage.NewMemoryStore(), nil
	}
}

// traceWriter keeps the nil interface nil when no file is configured.
func traceWriter(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("relaymesh"),
		kong.Description("Agent-to-agent coordination service."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
