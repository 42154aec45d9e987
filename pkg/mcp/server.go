package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

// WorkflowEngine is the engine surface exposed as workflow.* tools.
type WorkflowEngine interface {
	Start(ctx context.Context, workflowID string, params map[string]any, executedBy string) (*store.Execution, error)
	GetStatus(ctx context.Context, executionID string) (*engine.ExecutionReport, error)
	ListRunning() []engine.RunningExecution
	Cancel(ctx context.Context, executionID string) (bool, error)
	ListDefinitions(ctx context.Context, status *schema.DefinitionStatus) ([]*schema.WorkflowDefinition, error)
}

// ToolCatalog lists and invokes registered tool providers.
type ToolCatalog interface {
	List() []schema.ToolInfo
	Execute(ctx context.Context, name string, params map[string]any) *schema.ToolResult
}

// Deps holds the dependencies for creating a Server.
type Deps struct {
	Engine  WorkflowEngine
	Tools   ToolCatalog
	Hub     streaming.EventHub
	Version string
	Logger  *slog.Logger
}

// Server wraps an MCP server exposing the tool providers and workflow operations.
type Server struct {
	engine    WorkflowEngine
	tools     ToolCatalog
	hub       streaming.EventHub
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server. Every tool in deps.Tools becomes an MCP tool
// next to the workflow.* tools.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine:   deps.Engine,
		tools:    deps.Tools,
		hub:      deps.Hub,
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"stepwise",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepwise runs workflow definitions as tracked executions. Use workflow.list to find ACTIVE definitions, workflow.start to run one, workflow.status to follow it, workflow.running to see what is in flight and workflow.cancel to stop a run. Registered tools can also be called directly."),
	)
	mcpSrv.AddTools(s.serverTools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport for mounting at /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath("/mcp"))
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
