package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) listTools(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Tools.List())
}

func (s *Server) getTool(c echo.Context) error {
	name := c.Param("name")
	info, ok := s.deps.Tools.Info(name)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "tool not found: "+name)
	}
	return c.JSON(http.StatusOK, info)
}

// executeTool handles POST /api/tools/:name/execute. The body is the
// parameter object; the outcome is reported in the result, not the status code.
func (s *Server) executeTool(c echo.Context) error {
	// Decoded directly: echo's binder would also copy path params into the map.
	params := map[string]any{}
	if err := json.NewDecoder(c.Request().Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	res := s.deps.Tools.Execute(c.Request().Context(), c.Param("name"), params)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) toolStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"toolCount":      s.deps.Tools.Count(),
		"availableTools": s.deps.Tools.Names(),
		"timestamp":      time.Now().UTC(),
	})
}
