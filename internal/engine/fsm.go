package engine

import (
	"github.com/qmuntal/stateless"

	"github.com/rendis/stepwise/pkg/schema"
)

// Lifecycle triggers shared by the execution and step machines.
const (
	triggerStart    = "start"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerCancel   = "cancel"
)

// newExecutionMachine builds the execution lifecycle:
// PENDING -> RUNNING -> COMPLETED | FAILED | CANCELLED.
// TIMEOUT and RETRYING have no producing transition.
func newExecutionMachine(initial schema.ExecutionStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(initial)
	sm.Configure(schema.ExecutionPending).
		Permit(triggerStart, schema.ExecutionRunning)
	sm.Configure(schema.ExecutionRunning).
		Permit(triggerComplete, schema.ExecutionCompleted).
		Permit(triggerFail, schema.ExecutionFailed).
		Permit(triggerCancel, schema.ExecutionCancelled)
	return sm
}

// newStepMachine builds the step record lifecycle:
// PENDING -> RUNNING -> COMPLETED | FAILED | CANCELLED.
func newStepMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(schema.StepPending)
	sm.Configure(schema.StepPending).
		Permit(triggerStart, schema.StepRunning).
		Permit(triggerCancel, schema.StepCancelled)
	sm.Configure(schema.StepRunning).
		Permit(triggerComplete, schema.StepCompleted).
		Permit(triggerFail, schema.StepFailed).
		Permit(triggerCancel, schema.StepCancelled)
	return sm
}

// fire applies trigger and reports a rejected transition as INVALID_TRANSITION.
func fire(sm *stateless.StateMachine, trigger string) error {
	from := sm.MustState()
	if err := sm.Fire(trigger); err != nil {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot %s from %v", trigger, from).WithCause(err)
	}
	return nil
}

// nextExecutionStatus returns the status trigger leads to from the given status.
func nextExecutionStatus(from schema.ExecutionStatus, trigger string) (schema.ExecutionStatus, error) {
	sm := newExecutionMachine(from)
	if err := fire(sm, trigger); err != nil {
		return from, err
	}
	return sm.MustState().(schema.ExecutionStatus), nil
}

func stepStatus(sm *stateless.StateMachine) schema.StepStatus {
	return sm.MustState().(schema.StepStatus)
}
