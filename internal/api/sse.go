package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

// globalEvents streams live events of every execution.
func (s *Server) globalEvents(c echo.Context) error {
	filter := streaming.EventFilter{WorkflowID: c.QueryParam("workflowId")}
	ch, cancel, err := s.deps.Hub.Subscribe(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	defer cancel()

	startSSE(c)
	return s.pump(c, ch, 0, false)
}

// executionEvents replays the logged events of one execution after the
// Last-Event-ID (or ?since=) sequence, then follows live events until the
// execution reaches a terminal status.
func (s *Server) executionEvents(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("executionId")

	since := int64(0)
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	} else if v := c.QueryParam("since"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}

	// Subscribe before replaying so nothing committed in between is missed.
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.EventFilter{ExecutionID: id})
	if err != nil {
		return err
	}
	defer cancel()

	logged, err := s.deps.Engine.Events(ctx, id, since)
	if err != nil {
		return err
	}

	startSSE(c)
	last := since
	for _, ev := range logged {
		if err := writeEvent(c, streaming.StreamEvent{
			ExecutionID: ev.ExecutionID,
			StepName:    ev.StepName,
			EventType:   ev.Type,
			Sequence:    ev.Sequence,
			Payload:     ev.Payload,
			Timestamp:   ev.Timestamp,
		}); err != nil {
			return nil
		}
		last = ev.Sequence
		if isTerminalEvent(ev.Type) {
			return nil
		}
	}
	return s.pump(c, ch, last, true)
}

func (s *Server) pump(c echo.Context, ch <-chan streaming.StreamEvent, after int64, stopAtTerminal bool) error {
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if after > 0 && ev.Sequence <= after {
				continue
			}
			if err := writeEvent(c, ev); err != nil {
				return nil
			}
			if stopAtTerminal && isTerminalEvent(ev.EventType) {
				return nil
			}
		}
	}
}

func startSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

func writeEvent(c echo.Context, ev streaming.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	if ev.Sequence > 0 {
		if _, err := fmt.Fprintf(c.Response(), "id: %d\n", ev.Sequence); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.EventType, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionCancelled:
		return true
	}
	return false
}
