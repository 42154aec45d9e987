package store

import (
	"context"

	"github.com/rendis/stepwise/pkg/schema"
)

// DefinitionStore persists workflow definitions and their steps.
type DefinitionStore interface {
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetDefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	UpdateDefinitionStatus(ctx context.Context, id string, status schema.DefinitionStatus) error
	DeleteDefinition(ctx context.Context, id string) error
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error
	// TransitionExecution applies update only while the execution is still in
	// status from. It reports whether the row was updated.
	TransitionExecution(ctx context.Context, executionID string, from schema.ExecutionStatus, update ExecutionUpdate) (bool, error)
	// RenewExecution refreshes updated_at of a RUNNING execution, extending
	// the lease of the process running it. It reports whether the row is
	// still RUNNING.
	RenewExecution(ctx context.Context, executionID string) (bool, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
}

// StepStore persists step execution records.
type StepStore interface {
	CreateStepExecution(ctx context.Context, step *StepExecution) error
	UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error
	// ListStepExecutions returns the steps of an execution ordered by order index,
	// optionally restricted to one status.
	ListStepExecutions(ctx context.Context, executionID string, status *schema.StepStatus) ([]*StepExecution, error)
}

// EventStore is the append-only execution event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
}

// ScheduleStore persists cron schedules.
type ScheduleStore interface {
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
}

// Tx is the transactional view handed to WithTx callbacks.
type Tx interface {
	DefinitionStore
	ExecutionStore
	StepStore
	EventStore

	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks run in registration order and are dropped on rollback.
	AfterCommit(fn func())
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	DefinitionStore
	ExecutionStore
	StepStore
	EventStore
	ScheduleStore

	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Migrate(ctx context.Context) error
	Close() error
}
