package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].toolName", ErrCodeValidation, "tool not found")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].action", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, "action not found", r.Errors[0].Message)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_AddWarning(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps[1].retry.max", ErrCodeValidation, "high retry count")

	assert.True(t, r.Valid(), "warnings alone should not make result invalid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", ErrCodeValidation, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("steps[0]", ErrCodeValidation, "err2")
	r2.AddWarning("steps[1]", ErrCodeValidation, "warn2")

	r1.Merge(r2)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
}

func TestValidationResult_MergeNil(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err")
	r.Merge(nil)
	assert.Len(t, r.Errors, 1)
}

func TestValidationResult_ToError_Valid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", ErrCodeValidation, "just a warning")
	assert.Nil(t, r.ToError())
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("steps[0].toolName", ErrCodeValidation, "tool not found")

	err := r.ToError()
	require.NotNil(t, err)

	opErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, opErr.Code)
	assert.Equal(t, "tool not found", opErr.Message)
	assert.Equal(t, 1, opErr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeValidation, "err1")
	r.AddError("/", ErrCodeValidation, "err2")
	r.AddWarning("/", ErrCodeValidation, "warn1")

	err := r.ToError()
	require.NotNil(t, err)

	opErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Contains(t, opErr.Message, "2 errors")
	assert.Equal(t, 2, opErr.Details["error_count"])
	assert.Equal(t, 1, opErr.Details["warning_count"])
}

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		Name: "file processing",
		Steps: []StepDefinition{
			{Name: "write", Type: StepTool, OrderIndex: 1, ToolName: "create_file"},
			{Name: "gate", Type: StepCondition, OrderIndex: 2, Condition: "resultCount > 0"},
			{Name: "pause", Type: StepDelay, OrderIndex: 3, Config: map[string]any{"delay": 100}},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	r := ValidateDefinition(validDefinition())
	assert.True(t, r.Valid())
	assert.Empty(t, r.Warnings)
}

func TestValidateDefinition_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *WorkflowDefinition)
		path   string
	}{
		{"missing name", func(d *WorkflowDefinition) { d.Name = " " }, "name"},
		{"no steps", func(d *WorkflowDefinition) { d.Steps = nil }, "steps"},
		{"duplicate order", func(d *WorkflowDefinition) { d.Steps[1].OrderIndex = 1 }, "steps[1].orderIndex"},
		{"duplicate name", func(d *WorkflowDefinition) { d.Steps[2].Name = "write" }, "steps[2].name"},
		{"tool without name", func(d *WorkflowDefinition) { d.Steps[0].ToolName = "" }, "steps[0].toolName"},
		{"empty condition", func(d *WorkflowDefinition) { d.Steps[1].Condition = "" }, "steps[1].condition"},
		{"unknown type", func(d *WorkflowDefinition) { d.Steps[0].Type = "SCRIPT" }, "steps[0].type"},
		{"unknown status", func(d *WorkflowDefinition) { d.Status = "LIVE" }, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			r := ValidateDefinition(d)
			require.False(t, r.Valid())
			paths := make([]string, 0, len(r.Errors))
			for _, e := range r.Errors {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestValidateDefinition_UnsupportedTypesWarn(t *testing.T) {
	d := validDefinition()
	d.Steps = append(d.Steps, StepDefinition{Name: "fan-out", Type: StepParallel, OrderIndex: 9})
	r := ValidateDefinition(d)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[3].type", r.Warnings[0].Path)
}

func TestValidateDefinition_Nil(t *testing.T) {
	assert.False(t, ValidateDefinition(nil).Valid())
}
