package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/scheduler"
	"github.com/rendis/stepwise/internal/seed"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/internal/tools"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	tools     *tools.Registry
	hub       *streaming.MemoryHub
	registry  *prometheus.Registry
	tracer    trace.TracerProvider
	engine    *engine.Engine
	scheduler *scheduler.Scheduler

	shutdownTracer func(context.Context) error
}

func newLogger(cfg Config) *slog.Logger {
	// stdout belongs to the MCP stdio transport, so logs always go to stderr.
	return logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
}

func openStore(ctx context.Context, cfg DBConfig) (store.Store, error) {
	switch cfg.Driver {
	case driverPostgres:
		return store.NewPostgresStore(ctx, cfg.DSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return store.NewLibSQLStore("file:" + cfg.Path)
	}
}

// newApp opens and migrates the store, then wires the engine, tools and scheduler.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		tools:    tools.NewRegistry(tools.NewValidator(), logger),
		hub:      streaming.NewMemoryHub(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.tracer, a.shutdownTracer, err = newTracerProvider(ctx, cfg.OTel)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("tracer provider: %w", err)
	}

	metrics, err := engine.NewMetrics(a.registry)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.engine, err = engine.New(st, a.tools, engine.Config{
		PoolSize:        cfg.Engine.PoolSize,
		RetryEnabled:    cfg.Engine.RetryEnabled,
		EnforceTimeouts: cfg.Engine.EnforceTimeouts,
		LeaseTTL:        cfg.Engine.LeaseTTL,
	},
		engine.WithEventHub(a.hub),
		engine.WithMetrics(metrics),
		engine.WithTracerProvider(a.tracer),
		engine.WithLogger(logger),
	)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	// Builtins are registered after the engine exists: execute_workflow starts
	// child executions through it.
	if err := tools.RegisterBuiltins(a.tools, tools.Config{
		WorkspaceRoot: cfg.Tools.WorkspaceRoot,
		SearchRoot:    cfg.Tools.SearchRoot,
		HTTPTimeout:   cfg.Tools.HTTPTimeout,
	}, a.engine); err != nil {
		a.closeStore()
		return nil, err
	}

	a.scheduler = scheduler.NewScheduler(st, a.engine, cfg.Scheduler.Interval, logger)

	if cfg.Seed {
		if _, err := seed.Load(ctx, a.engine, logger); err != nil {
			a.closeStore()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return a, nil
}

// commandApp wires the app for one-shot commands. Seeding is left to serve and seed.
func commandApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Seed = false
	return newApp(cmd.Context(), cfg, newLogger(cfg))
}

// close drains the engine, then flushes traces and closes the store.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if err := a.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := a.shutdownTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

func (a *app) closeStore() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.shutdownTracer(ctx)
	_ = a.store.Close()
}
