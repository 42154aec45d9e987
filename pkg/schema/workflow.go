package schema

import (
	"sort"
	"time"
)

// DefinitionStatus is the lifecycle state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionDraft      DefinitionStatus = "DRAFT"
	DefinitionActive     DefinitionStatus = "ACTIVE"
	DefinitionInactive   DefinitionStatus = "INACTIVE"
	DefinitionDeprecated DefinitionStatus = "DEPRECATED"
)

// Valid reports whether s is a known definition status.
func (s DefinitionStatus) Valid() bool {
	switch s {
	case DefinitionDraft, DefinitionActive, DefinitionInactive, DefinitionDeprecated:
		return true
	}
	return false
}

// StepType enumerates the kinds of steps in a workflow.
// LOOP, PARALLEL and CUSTOM are accepted in definitions but have no handler.
type StepType string

const (
	StepTool      StepType = "TOOL"
	StepCondition StepType = "CONDITION"
	StepLoop      StepType = "LOOP"
	StepParallel  StepType = "PARALLEL"
	StepDelay     StepType = "DELAY"
	StepCustom    StepType = "CUSTOM"
)

// Valid reports whether t is a declared step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTool, StepCondition, StepLoop, StepParallel, StepDelay, StepCustom:
		return true
	}
	return false
}

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
	ExecutionTimeout   ExecutionStatus = "TIMEOUT"
	ExecutionRetrying  ExecutionStatus = "RETRYING"
)

// IsTerminal reports whether no further engine writes follow this status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of one step attempt.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepCancelled StepStatus = "CANCELLED"
	StepTimeout   StepStatus = "TIMEOUT"
)

// Step defaults applied when a definition leaves the field unset.
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	DefaultTimeoutMs    = 30000
)

// WorkflowDefinition is the reusable, versioned template of ordered steps.
type WorkflowDefinition struct {
	ID          string           `json:"id" yaml:"id,omitempty"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string           `json:"version,omitempty" yaml:"version,omitempty"`
	Status      DefinitionStatus `json:"status" yaml:"status,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Parameters  map[string]any   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Config      map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	CreatedBy   string           `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt   time.Time        `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time        `json:"updatedAt" yaml:"-"`
}

// StepDefinition describes a single step in a workflow definition.
type StepDefinition struct {
	Name         string         `json:"name" yaml:"name"`
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type         StepType       `json:"type" yaml:"type"`
	OrderIndex   int            `json:"orderIndex" yaml:"orderIndex"`
	ToolName     string         `json:"toolName,omitempty" yaml:"toolName,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Condition    string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	MaxRetries   *int           `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	RetryDelayMs *int64         `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"`
	TimeoutMs    *int64         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SortedSteps returns a copy of the steps ordered by ascending order index.
func (d *WorkflowDefinition) SortedSteps() []StepDefinition {
	steps := make([]StepDefinition, len(d.Steps))
	copy(steps, d.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].OrderIndex < steps[j].OrderIndex
	})
	return steps
}

// ApplyDefaults fills unset retry and timeout settings on every step.
func (d *WorkflowDefinition) ApplyDefaults() {
	if d.Status == "" {
		d.Status = DefinitionDraft
	}
	if d.Version == "" {
		d.Version = "1.0.0"
	}
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.MaxRetries == nil {
			n := DefaultMaxRetries
			s.MaxRetries = &n
		}
		if s.RetryDelayMs == nil {
			n := int64(DefaultRetryDelayMs)
			s.RetryDelayMs = &n
		}
		if s.TimeoutMs == nil {
			n := int64(DefaultTimeoutMs)
			s.TimeoutMs = &n
		}
	}
}

// Retries returns the configured retry budget, or the default when unset.
func (s StepDefinition) Retries() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *s.MaxRetries < 0 {
		return 0
	}
	return *s.MaxRetries
}

// RetryDelay returns the pause between retries.
func (s StepDefinition) RetryDelay() time.Duration {
	if s.RetryDelayMs == nil {
		return DefaultRetryDelayMs * time.Millisecond
	}
	return time.Duration(*s.RetryDelayMs) * time.Millisecond
}

// Timeout returns the per-attempt deadline, or 0 when the step has none.
func (s StepDefinition) Timeout() time.Duration {
	if s.TimeoutMs == nil {
		return DefaultTimeoutMs * time.Millisecond
	}
	if *s.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(*s.TimeoutMs) * time.Millisecond
}
