package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type createScheduleRequest struct {
	WorkflowID     string         `json:"workflowId"`
	CronExpression string         `json:"cronExpression"`
	Parameters     map[string]any `json:"parameters"`
	ExecutedBy     string         `json:"executedBy"`
}

func (s *Server) listSchedules(c echo.Context) error {
	jobs, err := s.deps.Schedules.ListJobs(c.Request().Context(), c.QueryParam("workflowId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) createSchedule(c echo.Context) error {
	var req createScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	// Reject unknown definitions up front; the job would only ever fail.
	if _, err := s.deps.Engine.GetDefinition(ctx, req.WorkflowID); err != nil {
		return err
	}
	job, err := s.deps.Schedules.AddJob(ctx, req.WorkflowID, req.CronExpression, req.Parameters, req.ExecutedBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, job)
}

func (s *Server) setScheduleEnabled(c echo.Context) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	if err := s.deps.Schedules.SetEnabled(c.Request().Context(), c.Param("id"), *req.Enabled); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteSchedule(c echo.Context) error {
	if err := s.deps.Schedules.RemoveJob(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
