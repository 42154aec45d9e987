package tools

import (
	"context"
	"encoding/json"
)

// Tool is a named, externally implemented capability that TOOL steps invoke.
type Tool interface {
	Name() string
	Schema() Schema
	// Execute runs the tool. A returned *schema.Error keeps its code in the
	// ToolResult; any other error is reported as a provider failure.
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Schema describes the contract of a tool.
type Schema struct {
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}
