package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

// ForwardEvents pushes execution events to the sessions that started the
// execution until ctx is cancelled. Delivery is best-effort.
func (s *Server) ForwardEvents(ctx context.Context) error {
	if s.hub == nil {
		return nil
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.notify(ev)
		}
	}
}

func (s *Server) notify(ev streaming.StreamEvent) {
	payload := map[string]any{
		"executionId": ev.ExecutionID,
		"workflowId":  ev.WorkflowID,
		"eventType":   ev.EventType,
		"sequence":    ev.Sequence,
		"timestamp":   ev.Timestamp,
	}
	if ev.StepName != "" {
		payload["stepName"] = ev.StepName
	}
	if ev.Payload != nil {
		payload["payload"] = ev.Payload
	}

	for _, sid := range s.sessions.SessionsFor(ev.ExecutionID) {
		err := s.mcpServer.SendNotificationToSpecificClient(sid, "notifications/message", payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session went away; stop tracking it.
			s.sessions.RemoveSession(sid)
			continue
		}
		if err != nil {
			s.logger.Debug("mcp notification failed", "session", sid, "error", err)
		}
	}

	switch ev.EventType {
	case schema.EventExecutionCompleted, schema.EventExecutionFailed, schema.EventExecutionCancelled:
		s.sessions.Forget(ev.ExecutionID)
	}
}
