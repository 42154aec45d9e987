package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/stepwise/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve the registered tools and the workflow.* operations over the MCP
stdio transport. Executions started here run in this process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		if _, err := a.engine.RecoverInterrupted(ctx); err != nil {
			logger.Error("recover interrupted executions", slog.Any("error", err))
		}

		srv := mcp.NewServer(mcp.Deps{
			Engine:  a.engine,
			Tools:   a.tools,
			Hub:     a.hub,
			Version: version,
			Logger:  logger,
		})
		go func() { _ = srv.ForwardEvents(ctx) }()
		return srv.Serve(ctx)
	},
}
