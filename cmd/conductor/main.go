// Copyright 2026 The Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command conductor runs the multi-agent orchestration server.
//
// Usage:
//
//	conductor serve --config conductor.yaml
//	conductor validate --config conductor.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/goconductor/conductor/pkg/agent"
	"github.com/goconductor/conductor/pkg/config"
	"github.com/goconductor/conductor/pkg/invoker"
	"github.com/goconductor/conductor/pkg/logger"
	"github.com/goconductor/conductor/pkg/observability"
	"github.com/goconductor/conductor/pkg/orchestrator"
	"github.com/goconductor/conductor/pkg/router"
	"github.com/goconductor/conductor/pkg/server"
	"github.com/goconductor/conductor/pkg/task"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the orchestration server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"conductor.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("conductor version %s\n", version)
	return nil
}

// ValidateCmd checks the configuration without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader, err := config.NewLoader(config.LoaderOptions{Path: cli.Config})
	if err != nil {
		return err
	}
	if _, err := loader.Load(); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the orchestration server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	loader, err := config.NewLoader(config.LoaderOptions{
		Path:  cli.Config,
		Watch: c.Watch,
		OnChange: func(*config.Config) error {
			slog.Warn("config changed on disk; restart to apply")
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer loader.Stop()

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	return run(ctx, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	// Observability
	obs := observability.NewManager(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.Metrics.Enabled},
		Tracing: observability.TracerConfig{
			Enabled:      cfg.Observability.Tracing.Enabled,
			Exporter:     cfg.Observability.Tracing.Exporter,
			Endpoint:     cfg.Observability.Tracing.Endpoint,
			SamplingRate: cfg.Observability.Tracing.SamplingRate,
			ServiceName:  cfg.Observability.Tracing.ServiceName,
		},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	metrics := obs.GetMetrics()

	// Agents
	agents := agent.NewRegistry()
	for _, a := range cfg.Agents {
		err := agents.Register(agent.Agent{
			Name:        a.Name,
			Address:     a.Address,
			ExternalID:  a.ExternalID,
			Description: a.Description,
			Skills:      a.Skills,
		})
		if err != nil {
			return fmt.Errorf("failed to register agent %q: %w", a.Name, err)
		}
	}
	slog.Info("agents registered", "count", agents.Count())

	// Task storage
	store, err := buildStore(cfg.Storage)
	if err != nil {
		return err
	}

	// Invocation
	inv := invoker.NewHTTP(agents,
		invoker.WithDefaultTimeout(cfg.Invoker.Timeout()),
		invoker.WithMetrics(metrics),
	)

	// Planning
	planner, err := buildPlanner(cfg, agents)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(planner, inv, store,
		orchestrator.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	serverOpts := []server.Option{}
	if cfg.Observability.Metrics.Enabled {
		serverOpts = append(serverOpts, server.WithMetricsHandler(metrics.Handler()))
	}

	var prober *agent.Prober
	if cfg.Health.Enabled {
		prober = agent.NewProber(agents,
			agent.WithProbeInterval(cfg.Health.Interval()),
			agent.WithProbeTimeout(cfg.Health.Timeout()),
		)
		serverOpts = append(serverOpts, server.WithProber(prober))
	}

	srv := server.New(cfg.Server.Address(), orch, agents, store, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if prober != nil {
		g.Go(func() error {
			prober.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return orch.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildStore(cfg config.StorageConfig) (task.Store, error) {
	switch cfg.Backend {
	case "memory":
		return task.NewInMemoryStore(), nil
	case "sqlite", "postgres", "mysql":
		store, err := task.OpenSQLStore(cfg.Backend, cfg.DSN, cfg.MaxConns, cfg.MaxIdle)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s task store: %w", cfg.Backend, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// buildPlanner prefers configured plans; without plans every goal is routed
// to a single agent.
func buildPlanner(cfg *config.Config, agents *agent.Registry) (orchestrator.Planner, error) {
	if len(cfg.Plans) > 0 {
		plans := make(map[string][]orchestrator.Stage, len(cfg.Plans))
		for name, stages := range cfg.Plans {
			out := make([]orchestrator.Stage, len(stages))
			for i, s := range stages {
				out[i] = orchestrator.Stage{
					Name:    s.Name,
					Agent:   s.Agent,
					Skill:   s.Skill,
					Timeout: s.Timeout(),
				}
			}
			plans[name] = out
		}
		return orchestrator.NewStaticPlanner(plans, cfg.DefaultPlan)
	}

	opts := []router.Option{}
	if cfg.Router.Scorer.Type == "gemini" {
		scorer, err := router.NewGeminiScorer(router.GeminiConfig{
			APIKey: cfg.Router.Scorer.APIKey,
			Model:  cfg.Router.Scorer.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini scorer: %w", err)
		}
		opts = append(opts, router.WithScorer(scorer))
	}

	r := router.New(agents, router.Config{
		DefaultAgent:  cfg.Router.DefaultAgent,
		MinConfidence: cfg.Router.MinConfidence,
	}, opts...)

	return orchestrator.NewRouterPlanner(r, cfg.Router.Skill), nil
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("conductor"),
		kong.Description("Multi-agent task orchestration server."),
		kong.UsageOnError(),
	)

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
