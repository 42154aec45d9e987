package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestExecutionMachine(t *testing.T) {
	tests := []struct {
		from    schema.ExecutionStatus
		trigger string
		want    schema.ExecutionStatus
		ok      bool
	}{
		{schema.ExecutionPending, triggerStart, schema.ExecutionRunning, true},
		{schema.ExecutionPending, triggerCancel, schema.ExecutionPending, false},
		{schema.ExecutionPending, triggerComplete, schema.ExecutionPending, false},
		{schema.ExecutionRunning, triggerComplete, schema.ExecutionCompleted, true},
		{schema.ExecutionRunning, triggerFail, schema.ExecutionFailed, true},
		{schema.ExecutionRunning, triggerCancel, schema.ExecutionCancelled, true},
		{schema.ExecutionRunning, triggerStart, schema.ExecutionRunning, false},
		{schema.ExecutionCompleted, triggerCancel, schema.ExecutionCompleted, false},
		{schema.ExecutionCancelled, triggerFail, schema.ExecutionCancelled, false},
		{schema.ExecutionTimeout, triggerStart, schema.ExecutionTimeout, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.trigger, func(t *testing.T) {
			got, err := nextExecutionStatus(tt.from, tt.trigger)
			assert.Equal(t, tt.want, got)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))
		})
	}
}

func TestStepMachine(t *testing.T) {
	sm := newStepMachine()
	assert.Equal(t, schema.StepPending, stepStatus(sm))

	require.Error(t, fire(sm, triggerComplete))
	require.NoError(t, fire(sm, triggerStart))
	assert.Equal(t, schema.StepRunning, stepStatus(sm))
	require.NoError(t, fire(sm, triggerFail))
	assert.Equal(t, schema.StepFailed, stepStatus(sm))

	err := fire(sm, triggerStart)
	assert.Equal(t, schema.ErrCodeInvalidTransition, schema.CodeOf(err))

	sm = newStepMachine()
	require.NoError(t, fire(sm, triggerCancel))
	assert.Equal(t, schema.StepCancelled, stepStatus(sm))
}
