package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem with location context.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues from the validation pipeline.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to an *Error if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}

// ValidateDefinition checks the structural rules of a workflow definition.
// Step types without a handler are accepted; they fail at run time.
func ValidateDefinition(def *WorkflowDefinition) *ValidationResult {
	r := &ValidationResult{}
	if def == nil {
		r.AddError("/", ErrCodeValidation, "definition is nil")
		return r
	}
	if strings.TrimSpace(def.Name) == "" {
		r.AddError("name", ErrCodeValidation, "name is required")
	}
	if def.Status != "" && !def.Status.Valid() {
		r.AddError("status", ErrCodeValidation, fmt.Sprintf("unknown status %q", def.Status))
	}
	if len(def.Steps) == 0 {
		r.AddError("steps", ErrCodeValidation, "at least one step is required")
	}

	orders := make(map[int]string, len(def.Steps))
	names := make(map[string]struct{}, len(def.Steps))
	for i, s := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			r.AddError(path+".name", ErrCodeValidation, "step name is required")
		} else if _, dup := names[s.Name]; dup {
			r.AddError(path+".name", ErrCodeValidation, fmt.Sprintf("duplicate step name %q", s.Name))
		} else {
			names[s.Name] = struct{}{}
		}
		if prev, dup := orders[s.OrderIndex]; dup {
			r.AddError(path+".orderIndex", ErrCodeValidation,
				fmt.Sprintf("order index %d already used by step %q", s.OrderIndex, prev))
		} else {
			orders[s.OrderIndex] = s.Name
		}
		if !s.Type.Valid() {
			r.AddError(path+".type", ErrCodeValidation, fmt.Sprintf("unknown step type %q", s.Type))
			continue
		}
		switch s.Type {
		case StepTool:
			if strings.TrimSpace(s.ToolName) == "" {
				r.AddError(path+".toolName", ErrCodeValidation, "tool steps require a tool name")
			}
		case StepCondition:
			if strings.TrimSpace(s.Condition) == "" {
				r.AddError(path+".condition", ErrCodeValidation, "condition steps require an expression")
			}
		case StepDelay:
			if _, ok := s.Config["delay"]; !ok {
				r.AddWarning(path+".config.delay", ErrCodeValidation, "delay step has no delay configured")
			}
		case StepLoop, StepParallel, StepCustom:
			r.AddWarning(path+".type", ErrCodeValidation, fmt.Sprintf("step type %s is not executable", s.Type))
		}
	}
	return r
}
