package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/stepwise/pkg/schema"
)

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeInvalidState, schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps schema error codes and echo errors to JSON responses.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var he *echo.HTTPError
	var se *schema.Error
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Error = fmt.Sprint(he.Message)
	case errors.As(err, &se):
		status = statusFor(se.Code)
		body = errorBody{Error: se.Message, Code: se.Code, Details: se.Details}
	}

	if status >= http.StatusInternalServerError {
		s.deps.Logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("path", c.Path()), slog.Any("error", err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.deps.Logger.Error("write error response", slog.Any("error", err))
	}
}
