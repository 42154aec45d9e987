package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/stepwise/internal/api"
	"github.com/rendis/stepwise/pkg/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API, event streams, scheduler and MCP over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen-addr", ":4100", "TCP listen address")
	f.Bool("seed", false, "load the sample workflow definitions on start")
	f.Bool("scheduler", true, "run cron schedules")
	_ = v.BindPFlag("listen_addr", f.Lookup("listen-addr"))
	_ = v.BindPFlag("seed", f.Lookup("seed"))
	_ = v.BindPFlag("scheduler.enabled", f.Lookup("scheduler"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("shutdown", slog.Any("error", err))
		}
	}()

	if n, err := a.engine.RecoverInterrupted(ctx); err != nil {
		logger.Error("recover interrupted executions", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("recovered interrupted executions", slog.Int("count", n))
	}

	mcpSrv := mcp.NewServer(mcp.Deps{
		Engine:  a.engine,
		Tools:   a.tools,
		Hub:     a.hub,
		Version: version,
		Logger:  logger,
	})
	apiSrv := api.NewServer(api.Deps{
		Engine:         a.engine,
		Tools:          a.tools,
		Hub:            a.hub,
		Schedules:      a.scheduler,
		Gatherer:       a.registry,
		TracerProvider: a.tracer,
		MCP:            mcpSrv.HTTPHandler(),
		ServiceName:    cfg.OTel.ServiceName,
		Logger:         logger,
	})
	httpSrv := apiSrv.NewHTTPServer(cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr), slog.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return mcpSrv.ForwardEvents(gctx)
	})

	g.Go(func() error {
		a.engine.WatchInterrupted(gctx)
		return nil
	})

	if cfg.Scheduler.Enabled {
		if _, err := a.scheduler.RecoverMissed(ctx); err != nil {
			logger.Error("recover missed schedules", slog.Any("error", err))
		}
		if err := a.scheduler.Start(gctx); err != nil {
			return err
		}
		defer func() { _ = a.scheduler.Stop() }()
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
