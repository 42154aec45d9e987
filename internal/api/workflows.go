package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rendis/stepwise/pkg/schema"
)

const defaultHistoryLimit = 20

// listDefinitions handles GET /api/workflows[?status=ACTIVE].
func (s *Server) listDefinitions(c echo.Context) error {
	var status *schema.DefinitionStatus
	if v := c.QueryParam("status"); v != "" {
		st := schema.DefinitionStatus(v)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+v)
		}
		status = &st
	}
	defs, err := s.deps.Engine.ListDefinitions(c.Request().Context(), status)
	if err != nil {
		return err
	}
	if defs == nil {
		defs = []*schema.WorkflowDefinition{}
	}
	return c.JSON(http.StatusOK, defs)
}

// createDefinition handles POST /api/workflows. New definitions start as DRAFT.
func (s *Server) createDefinition(c echo.Context) error {
	var def schema.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	created, err := s.deps.Engine.CreateDefinition(c.Request().Context(), &def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) getDefinition(c echo.Context) error {
	def, err := s.deps.Engine.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

// setDefinitionStatus handles PUT /api/workflows/:id/status with {"status": "..."}.
func (s *Server) setDefinitionStatus(c echo.Context) error {
	var body struct {
		Status schema.DefinitionStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.deps.Engine.SetDefinitionStatus(ctx, id, body.Status); err != nil {
		return err
	}
	def, err := s.deps.Engine.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) deleteDefinition(c echo.Context) error {
	if err := s.deps.Engine.DeleteDefinition(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// executeWorkflow handles POST /api/workflows/:id/execute.
func (s *Server) executeWorkflow(c echo.Context) error {
	var body struct {
		Parameters map[string]any `json:"parameters"`
		ExecutedBy string         `json:"executedBy"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
	}
	exec, err := s.deps.Engine.Start(c.Request().Context(), c.Param("id"), body.Parameters, body.ExecutedBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"executionId": exec.ExecutionID,
		"workflowId":  exec.WorkflowID,
		"status":      exec.Status,
		"startedAt":   exec.StartedAt,
		"totalSteps":  exec.TotalSteps,
	})
}

// executionHistory handles GET /api/workflows/:id/executions[?limit=N].
func (s *Server) executionHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.deps.Engine.GetDefinition(ctx, id); err != nil {
		return err
	}
	execs, err := s.deps.Engine.History(ctx, id, limit)
	if err != nil {
		return err
	}
	out := make([]map[string]any, 0, len(execs))
	for _, e := range execs {
		out = append(out, map[string]any{
			"executionId":    e.ExecutionID,
			"workflowId":     e.WorkflowID,
			"status":         e.Status,
			"completedSteps": e.CompletedSteps,
			"totalSteps":     e.TotalSteps,
			"progress":       e.Progress(),
			"startedAt":      e.StartedAt,
			"completedAt":    e.CompletedAt,
			"duration":       e.DurationMs,
			"executedBy":     e.ExecutedBy,
			"errorMessage":   e.ErrorMessage,
		})
	}
	return c.JSON(http.StatusOK, out)
}
