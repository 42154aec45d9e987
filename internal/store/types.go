package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// Execution is the persisted representation of one workflow run.
type Execution struct {
	ID               string                 `json:"id"`
	ExecutionID      string                 `json:"executionId"`
	WorkflowID       string                 `json:"workflowId"`
	Status           schema.ExecutionStatus `json:"status"`
	Parameters       string                 `json:"parameters,omitempty"`
	Result           string                 `json:"result,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	CompletedSteps   int                    `json:"completedSteps"`
	TotalSteps       int                    `json:"totalSteps"`
	StartedAt        time.Time              `json:"startedAt"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
	DurationMs       *int64                 `json:"duration,omitempty"`
	ExecutedBy       string                 `json:"executedBy,omitempty"`
	Environment      string                 `json:"environment,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	Priority         int                    `json:"priority"`
	RetryCount       int                    `json:"retryCount"`
	MaxRetries       int                    `json:"maxRetries"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// Progress returns completed steps as a percentage of total steps.
func (e *Execution) Progress() float64 {
	if e.TotalSteps == 0 {
		return 0
	}
	return float64(e.CompletedSteps) / float64(e.TotalSteps) * 100
}

// StepExecution is one attempt of one step within an execution.
type StepExecution struct {
	ID              string            `json:"id"`
	ExecutionID     string            `json:"executionId"`
	StepName        string            `json:"stepName"`
	StepType        schema.StepType   `json:"stepType"`
	Status          schema.StepStatus `json:"status"`
	OrderIndex      int               `json:"orderIndex"`
	ToolName        string            `json:"toolName,omitempty"`
	InputParameters string            `json:"inputParameters,omitempty"`
	OutputResult    string            `json:"outputResult,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	ExecutionLog    string            `json:"executionLog,omitempty"`
	RetryCount      int               `json:"retryCount"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
	DurationMs      *int64            `json:"duration,omitempty"`
}

// AppendLog adds one "<timestamp> - <message>" line to the execution log.
func (s *StepExecution) AppendLog(at time.Time, msg string) {
	s.ExecutionLog += fmt.Sprintf("%s - %s\n", at.UTC().Format(time.RFC3339Nano), msg)
}

// Event is an immutable entry in the execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"executionId"`
	StepName    string          `json:"stepName,omitempty"`
	Type        string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered start of a workflow definition.
type ScheduledJob struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflowId"`
	CronExpression string          `json:"cronExpression"`
	Params         json.RawMessage `json:"params,omitempty"`
	ExecutedBy     string          `json:"executedBy"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time      `json:"nextRunAt,omitempty"`
	LastRunStatus  string          `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// --- Update and filter types ---

// ExecutionUpdate specifies mutable fields of an execution. Nil fields are left unchanged.
type ExecutionUpdate struct {
	Status           *schema.ExecutionStatus
	Result           *string
	ErrorMessage     *string
	CurrentStepIndex *int
	CompletedSteps   *int
	CompletedAt      *time.Time
	DurationMs       *int64
	RetryCount       *int
}

// StepExecutionUpdate specifies mutable fields of a step execution.
type StepExecutionUpdate struct {
	Status          *schema.StepStatus
	InputParameters *string
	OutputResult    *string
	ErrorMessage    *string
	ExecutionLog    *string
	RetryCount      *int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationMs      *int64
}

// DefinitionFilter specifies criteria for listing definitions.
type DefinitionFilter struct {
	Status *schema.DefinitionStatus
	Name   string
	Limit  int
}

// ExecutionFilter specifies criteria for listing executions, newest first.
type ExecutionFilter struct {
	WorkflowID string
	Status     *schema.ExecutionStatus
	Limit      int
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastRunStatus string
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled    *bool
	WorkflowID string
	Limit      int
}
