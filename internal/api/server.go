// Package api serves the workflow engine over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

// WorkflowEngine is the engine surface the API exposes.
type WorkflowEngine interface {
	Start(ctx context.Context, workflowID string, params map[string]any, executedBy string) (*store.Execution, error)
	GetStatus(ctx context.Context, executionID string) (*engine.ExecutionReport, error)
	ListRunning() []engine.RunningExecution
	Cancel(ctx context.Context, executionID string) (bool, error)
	History(ctx context.Context, workflowID string, limit int) ([]*store.Execution, error)
	Steps(ctx context.Context, executionID string) ([]*store.StepExecution, error)
	Events(ctx context.Context, executionID string, since int64) ([]*store.Event, error)

	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) (*schema.WorkflowDefinition, error)
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, status *schema.DefinitionStatus) ([]*schema.WorkflowDefinition, error)
	SetDefinitionStatus(ctx context.Context, id string, status schema.DefinitionStatus) error
	DeleteDefinition(ctx context.Context, id string) error
}

// ToolCatalog lists and invokes registered tools.
type ToolCatalog interface {
	List() []schema.ToolInfo
	Info(name string) (schema.ToolInfo, bool)
	Names() []string
	Count() int
	Execute(ctx context.Context, name string, params map[string]any) *schema.ToolResult
}

// Schedules manages cron-triggered starts.
type Schedules interface {
	AddJob(ctx context.Context, workflowID, cronExpr string, params map[string]any, executedBy string) (*store.ScheduledJob, error)
	ListJobs(ctx context.Context, workflowID string) ([]*store.ScheduledJob, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	RemoveJob(ctx context.Context, id string) error
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Engine WorkflowEngine
	Tools  ToolCatalog
	Hub    streaming.EventHub
	// Schedules, when set, enables /api/schedules.
	Schedules Schedules
	// Gatherer backs /metrics. Defaults to the global Prometheus registry.
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
	// MCP, when set, is mounted at /mcp.
	MCP         http.Handler
	ServiceName string
	Logger      *slog.Logger
}

// Server is the echo application.
type Server struct {
	deps Deps
	echo *echo.Echo
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "stepwise"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{deps: deps, echo: e}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	if deps.TracerProvider != nil {
		e.Use(otelecho.Middleware(deps.ServiceName, otelecho.WithTracerProvider(deps.TracerProvider)))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			deps.Logger.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	wf := e.Group("/api/workflows")
	wf.GET("", s.listDefinitions)
	wf.POST("", s.createDefinition)
	wf.GET("/executions/running", s.listRunning)
	wf.GET("/executions/:executionId", s.executionStatus)
	wf.GET("/executions/:executionId/steps", s.executionSteps)
	wf.GET("/executions/:executionId/events", s.executionEvents)
	wf.POST("/executions/:executionId/cancel", s.cancelExecution)
	wf.GET("/executions/:executionId/diagram", s.executionDiagram)
	wf.GET("/:id", s.getDefinition)
	wf.PUT("/:id/status", s.setDefinitionStatus)
	wf.DELETE("/:id", s.deleteDefinition)
	wf.POST("/:id/execute", s.executeWorkflow)
	wf.GET("/:id/executions", s.executionHistory)
	wf.GET("/:id/diagram", s.definitionDiagram)

	e.GET("/api/events", s.globalEvents)

	tg := e.Group("/api/tools")
	tg.GET("", s.listTools)
	tg.GET("/status", s.toolStatus)
	tg.GET("/:name", s.getTool)
	tg.POST("/:name/execute", s.executeTool)

	if s.deps.Schedules != nil {
		sg := e.Group("/api/schedules")
		sg.GET("", s.listSchedules)
		sg.POST("", s.createSchedule)
		sg.PUT("/:id/enabled", s.setScheduleEnabled)
		sg.DELETE("/:id", s.deleteSchedule)
	}

	if s.deps.MCP != nil {
		e.Any("/mcp", echo.WrapHandler(s.deps.MCP))
		e.Any("/mcp/*", echo.WrapHandler(s.deps.MCP))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// NewHTTPServer wraps the handler in an http.Server listening on addr.
// WriteTimeout is left unset so SSE streams are not cut off.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"running":   len(s.deps.Engine.ListRunning()),
		"toolCount": s.deps.Tools.Count(),
		"timestamp": time.Now().UTC(),
	})
}
