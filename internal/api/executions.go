package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/store"
)

func (s *Server) listRunning(c echo.Context) error {
	running := s.deps.Engine.ListRunning()
	if running == nil {
		running = []engine.RunningExecution{}
	}
	return c.JSON(http.StatusOK, running)
}

func (s *Server) executionStatus(c echo.Context) error {
	report, err := s.deps.Engine.GetStatus(c.Request().Context(), c.Param("executionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) executionSteps(c echo.Context) error {
	steps, err := s.deps.Engine.Steps(c.Request().Context(), c.Param("executionId"))
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []*store.StepExecution{}
	}
	return c.JSON(http.StatusOK, steps)
}

// cancelExecution answers 400 with a message when the execution is not RUNNING.
func (s *Server) cancelExecution(c echo.Context) error {
	id := c.Param("executionId")
	ok, err := s.deps.Engine.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"cancelled":   false,
			"executionId": id,
			"message":     "execution is not running: " + id,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"cancelled":   true,
		"executionId": id,
	})
}
