package schema

import (
	"encoding/json"
	"time"
)

// ToolResult is what a tool provider reports back for one invocation.
type ToolResult struct {
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	Code            string `json:"code,omitempty"`
	ExecutionTimeMs int64  `json:"executionTime"`
}

// ToolSuccess builds a successful result.
func ToolSuccess(result any, elapsed time.Duration) *ToolResult {
	return &ToolResult{Success: true, Result: result, ExecutionTimeMs: elapsed.Milliseconds()}
}

// ToolFailure builds a failed result carrying an error code.
func ToolFailure(code, message string, elapsed time.Duration) *ToolResult {
	return &ToolResult{Code: code, ErrorMessage: message, ExecutionTimeMs: elapsed.Milliseconds()}
}

// Retryable reports whether the failure may succeed on another attempt.
// Validation failures never are.
func (r *ToolResult) Retryable() bool {
	if r == nil || r.Success {
		return false
	}
	return r.Code != ErrCodeValidation
}

// ToolInfo describes a registered tool for listing.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
