package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/stepwise/internal/diagram"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

func (s *Server) definitionDiagram(c echo.Context) error {
	def, err := s.deps.Engine.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return s.renderDiagram(c, def, nil)
}

// executionDiagram draws the execution's definition colored by its step records.
func (s *Server) executionDiagram(c echo.Context) error {
	ctx := c.Request().Context()
	report, err := s.deps.Engine.GetStatus(ctx, c.Param("executionId"))
	if err != nil {
		return err
	}
	def, err := s.deps.Engine.GetDefinition(ctx, report.WorkflowID)
	if err != nil {
		return err
	}
	steps, err := s.deps.Engine.Steps(ctx, report.ExecutionID)
	if err != nil {
		return err
	}
	return s.renderDiagram(c, def, steps)
}

func (s *Server) renderDiagram(c echo.Context, def *schema.WorkflowDefinition, steps []*store.StepExecution) error {
	model := diagram.Build(def, steps)
	switch c.QueryParam("format") {
	case "", "mermaid":
		return c.String(http.StatusOK, diagram.RenderMermaid(model))
	case "png":
		png, err := diagram.RenderImage(c.Request().Context(), model)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, "image/png", png)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be mermaid or png")
	}
}
