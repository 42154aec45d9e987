package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepwise/pkg/schema"
)

const defaultMCPInitiator = "mcp"

// serverTools returns the workflow.* tools followed by one tool per registered provider.
func (s *Server) serverTools() []server.ServerTool {
	out := []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: runningTool(), Handler: s.handleRunning},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: listTool(), Handler: s.handleList},
	}
	if s.tools == nil {
		return out
	}
	for _, info := range s.tools.List() {
		out = append(out, server.ServerTool{
			Tool:    providerTool(info),
			Handler: s.providerHandler(info.Name),
		})
	}
	return out
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("workflow.start",
		mcp.WithDescription("Start an execution of an ACTIVE workflow definition"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow definition to run")),
		mcp.WithObject("parameters", mcp.Description("Runtime parameters; they override step parameters with the same key")),
		mcp.WithString("executed_by", mcp.Description("Initiator recorded on the execution (default: mcp)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow.status",
		mcp.WithDescription("Get the persisted status of an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func runningTool() mcp.Tool {
	return mcp.NewTool("workflow.running",
		mcp.WithDescription("List executions currently running in this process"),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("workflow.cancel",
		mcp.WithDescription("Cancel a RUNNING execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow.list",
		mcp.WithDescription("List workflow definitions"),
		mcp.WithString("status",
			mcp.Enum(string(schema.DefinitionDraft), string(schema.DefinitionActive), string(schema.DefinitionInactive), string(schema.DefinitionDeprecated)),
			mcp.Description("Only return definitions in this status"),
		),
	)
}

func providerTool(info schema.ToolInfo) mcp.Tool {
	inputSchema := info.InputSchema
	if len(inputSchema) == 0 {
		inputSchema = json.RawMessage(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(info.Name, info.Description, inputSchema)
}

// --- Handlers ---

func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	params := mcp.ParseStringMap(req, "parameters", nil)
	executedBy := req.GetString("executed_by", defaultMCPInitiator)

	exec, err := s.engine.Start(ctx, workflowID, params, executedBy)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %s", errorText(err))), nil
	}

	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Watch(exec.ExecutionID, session.SessionID())
	}

	return marshalResult(map[string]any{
		"executionId": exec.ExecutionID,
		"workflowId":  exec.WorkflowID,
		"status":      exec.Status,
		"startedAt":   exec.StartedAt,
		"totalSteps":  exec.TotalSteps,
	})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	report, err := s.engine.GetStatus(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %s", errorText(err))), nil
	}
	return marshalResult(report)
}

func (s *Server) handleRunning(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.engine.ListRunning())
}

func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	ok, err := s.engine.Cancel(ctx, executionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %s", errorText(err))), nil
	}
	result := map[string]any{"cancelled": ok, "executionId": executionID}
	if !ok {
		result["message"] = "execution is not running: " + executionID
	}
	return marshalResult(result)
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status *schema.DefinitionStatus
	if v := req.GetString("status", ""); v != "" {
		st := schema.DefinitionStatus(v)
		if !st.Valid() {
			return mcp.NewToolResultError("unknown status: " + v), nil
		}
		status = &st
	}
	defs, err := s.engine.ListDefinitions(ctx, status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %s", errorText(err))), nil
	}

	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"id":          d.ID,
			"name":        d.Name,
			"description": d.Description,
			"version":     d.Version,
			"status":      d.Status,
			"steps":       len(d.Steps),
		})
	}
	return marshalResult(out)
}

// providerHandler invokes a registered tool. Provider failures are reported
// as tool errors, never as protocol errors.
func (s *Server) providerHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.tools.Execute(ctx, name, req.GetArguments())
		if !res.Success {
			return mcp.NewToolResultError(res.ErrorMessage), nil
		}
		return marshalResult(res)
	}
}

// --- Helpers ---

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorText(err error) string {
	var se *schema.Error
	if errors.As(err, &se) {
		return se.Code + ": " + se.Message
	}
	return err.Error()
}
