package engine

import (
	"time"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// ExecutionReport is the caller-facing status of an execution.
type ExecutionReport struct {
	ExecutionID      string                 `json:"executionId"`
	WorkflowID       string                 `json:"workflowId"`
	Status           schema.ExecutionStatus `json:"status"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	CompletedSteps   int                    `json:"completedSteps"`
	TotalSteps       int                    `json:"totalSteps"`
	Progress         float64                `json:"progress"`
	StartedAt        time.Time              `json:"startedAt"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
	DurationMs       *int64                 `json:"duration,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Result           string                 `json:"result,omitempty"`
	ExecutedBy       string                 `json:"executedBy,omitempty"`
}

func reportOf(exec *store.Execution) ExecutionReport {
	return ExecutionReport{
		ExecutionID:      exec.ExecutionID,
		WorkflowID:       exec.WorkflowID,
		Status:           exec.Status,
		CurrentStepIndex: exec.CurrentStepIndex,
		CompletedSteps:   exec.CompletedSteps,
		TotalSteps:       exec.TotalSteps,
		Progress:         exec.Progress(),
		StartedAt:        exec.StartedAt,
		CompletedAt:      exec.CompletedAt,
		DurationMs:       exec.DurationMs,
		ErrorMessage:     exec.ErrorMessage,
		Result:           exec.Result,
		ExecutedBy:       exec.ExecutedBy,
	}
}
