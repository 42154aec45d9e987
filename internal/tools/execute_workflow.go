package tools

import (
	"context"
	"encoding/json"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const executeWorkflowInputSchema = `{
  "type": "object",
  "properties": {
    "workflowId": {"type": "string", "minLength": 1},
    "parameters": {"type": "object"}
  },
  "required": ["workflowId"]
}`

// WorkflowStarter starts executions of stored definitions.
type WorkflowStarter interface {
	Start(ctx context.Context, workflowID string, params map[string]any, executedBy string) (*store.Execution, error)
}

// ExecuteWorkflow starts a nested execution and returns without waiting for it.
type ExecuteWorkflow struct {
	starter WorkflowStarter
}

// NewExecuteWorkflow creates the execute_workflow tool.
func NewExecuteWorkflow(starter WorkflowStarter) *ExecuteWorkflow {
	return &ExecuteWorkflow{starter: starter}
}

func (t *ExecuteWorkflow) Name() string { return "execute_workflow" }

func (t *ExecuteWorkflow) Schema() Schema {
	return Schema{
		Description: "Start another workflow definition as a nested execution.",
		InputSchema: json.RawMessage(executeWorkflowInputSchema),
	}
}

func (t *ExecuteWorkflow) Execute(ctx context.Context, params map[string]any) (any, error) {
	workflowID := stringParam(params, "workflowId", "")
	if workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflowId is required")
	}

	initiator := "execute_workflow"
	if parent := logging.ExecutionID(ctx); parent != "" {
		initiator = "workflow:" + parent
	}

	// The child outlives this step, so it must not inherit the step deadline.
	exec, err := t.starter.Start(context.WithoutCancel(ctx), workflowID, mapParam(params, "parameters"), initiator)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"executionId": exec.ExecutionID,
		"workflowId":  exec.WorkflowID,
		"status":      exec.Status,
		"startedAt":   exec.StartedAt,
		"totalSteps":  exec.TotalSteps,
	}, nil
}
