package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// RunningExecution is the registry's view of an execution owned by this process.
type RunningExecution struct {
	ExecutionID    string                 `json:"executionId"`
	WorkflowID     string                 `json:"workflowId"`
	Status         schema.ExecutionStatus `json:"status"`
	CompletedSteps int                    `json:"completedSteps"`
	TotalSteps     int                    `json:"totalSteps"`
	Progress       float64                `json:"progress"`
	StartedAt      time.Time              `json:"startedAt"`
}

type registryEntry struct {
	snapshot RunningExecution
	cancel   context.CancelCauseFunc
}

// ExecutionRegistry tracks in-flight executions. Writers are the owning run
// and Cancel; readers get copies.
type ExecutionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewExecutionRegistry creates an empty registry.
func NewExecutionRegistry() *ExecutionRegistry {
	return &ExecutionRegistry{entries: make(map[string]*registryEntry)}
}

// Put registers or replaces an execution together with the cancel func of its run context.
func (r *ExecutionRegistry) Put(snapshot RunningExecution, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[snapshot.ExecutionID] = &registryEntry{snapshot: withProgress(snapshot), cancel: cancel}
}

// Update applies fn to the stored snapshot. It is a no-op for unknown ids.
func (r *ExecutionRegistry) Update(executionID string, fn func(*RunningExecution)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[executionID]
	if !ok {
		return
	}
	fn(&e.snapshot)
	e.snapshot = withProgress(e.snapshot)
}

// Get returns a copy of the snapshot for executionID.
func (r *ExecutionRegistry) Get(executionID string) (RunningExecution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[executionID]
	if !ok {
		return RunningExecution{}, false
	}
	return e.snapshot, true
}

// List returns all snapshots ordered by start time.
func (r *ExecutionRegistry) List() []RunningExecution {
	r.mu.RLock()
	out := make([]RunningExecution, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Cancel cancels the run context of executionID with cause and removes it.
// It reports whether the execution was registered.
func (r *ExecutionRegistry) Cancel(executionID string, cause error) bool {
	r.mu.Lock()
	e, ok := r.entries[executionID]
	delete(r.entries, executionID)
	r.mu.Unlock()

	if ok && e.cancel != nil {
		e.cancel(cause)
	}
	return ok
}

// Remove drops executionID without cancelling its context.
func (r *ExecutionRegistry) Remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, executionID)
}

// Len returns the number of registered executions.
func (r *ExecutionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func withProgress(s RunningExecution) RunningExecution {
	s.Progress = 0
	if s.TotalSteps > 0 {
		s.Progress = float64(s.CompletedSteps) / float64(s.TotalSteps) * 100
	}
	return s
}
