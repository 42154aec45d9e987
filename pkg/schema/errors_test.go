package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeNotFound, "execution %q not found", "abc")
	assert.Equal(t, `[NOT_FOUND] execution "abc" not found`, err.Error())

	err = NewError(ErrCodeValidation, "tool name cannot be empty").WithStep("write")
	assert.Equal(t, "[VALIDATION_ERROR] step write: tool name cannot be empty", err.Error())
}

func TestError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "save execution").WithCause(cause)
	wrapped := fmt.Errorf("start: %w", err)

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrCodeStore, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(cause))
	assert.True(t, IsNotFound(NewError(ErrCodeNotFound, "x")))
	assert.True(t, IsInvalidState(fmt.Errorf("wrap: %w", NewError(ErrCodeInvalidState, "x"))))
	assert.False(t, IsNotFound(nil))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeProviderFailure, "x").Retryable())
	assert.True(t, NewError(ErrCodeTimeout, "x").Retryable())
	assert.False(t, NewError(ErrCodeValidation, "x").Retryable())
	assert.False(t, NewError(ErrCodeNotFound, "x").Retryable())
}

func TestToolResult_Retryable(t *testing.T) {
	assert.False(t, ToolSuccess(nil, 0).Retryable())
	assert.False(t, ToolFailure(ErrCodeValidation, "bad", 0).Retryable())
	assert.True(t, ToolFailure(ErrCodeProviderFailure, "boom", 0).Retryable())
	var nilResult *ToolResult
	assert.False(t, nilResult.Retryable())
}

func TestStepDefinition_Defaults(t *testing.T) {
	d := &WorkflowDefinition{Steps: []StepDefinition{{Name: "a"}}}
	assert.Equal(t, DefaultMaxRetries, d.Steps[0].Retries())

	d.ApplyDefaults()
	assert.Equal(t, DefinitionDraft, d.Status)
	assert.Equal(t, "1.0.0", d.Version)
	s := d.Steps[0]
	assert.Equal(t, 3, *s.MaxRetries)
	assert.Equal(t, int64(1000), *s.RetryDelayMs)
	assert.Equal(t, int64(30000), *s.TimeoutMs)

	zero := int64(0)
	none := 0
	s.TimeoutMs = &zero
	s.MaxRetries = &none
	assert.Equal(t, 0, s.Retries())
	assert.Zero(t, s.Timeout())
}

func TestSortedSteps(t *testing.T) {
	d := &WorkflowDefinition{Steps: []StepDefinition{
		{Name: "c", OrderIndex: 30},
		{Name: "a", OrderIndex: 1},
		{Name: "b", OrderIndex: 7},
	}}
	sorted := d.SortedSteps()
	assert.Equal(t, "a", sorted[0].Name)
	assert.Equal(t, "b", sorted[1].Name)
	assert.Equal(t, "c", sorted[2].Name)
	assert.Equal(t, "c", d.Steps[0].Name, "original order untouched")
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.False(t, ExecutionPending.IsTerminal())
	assert.False(t, ExecutionRunning.IsTerminal())
	assert.False(t, ExecutionRetrying.IsTerminal())
	assert.True(t, ExecutionCompleted.IsTerminal())
	assert.True(t, ExecutionFailed.IsTerminal())
	assert.True(t, ExecutionCancelled.IsTerminal())
	assert.True(t, ExecutionTimeout.IsTerminal())
}
