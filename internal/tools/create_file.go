package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rendis/stepwise/pkg/schema"
)

const createFileInputSchema = `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "content": {"type": "string"}
  },
  "required": ["path", "content"]
}`

// CreateFile writes a file, creating parent directories as needed.
// Relative paths resolve under root.
type CreateFile struct {
	root string
}

// NewCreateFile creates the create_file tool.
func NewCreateFile(root string) *CreateFile {
	if root == "" {
		root = "."
	}
	return &CreateFile{root: root}
}

func (t *CreateFile) Name() string { return "create_file" }

func (t *CreateFile) Schema() Schema {
	return Schema{
		Description: "Create a file with the given content. Parent directories are created.",
		InputSchema: json.RawMessage(createFileInputSchema),
	}
}

func (t *CreateFile) Execute(ctx context.Context, params map[string]any) (any, error) {
	path := stringParam(params, "path", "")
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "path is required")
	}
	content, ok := params["content"]
	if !ok || content == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "content is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	path = filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProviderFailure, "create directories: %v", err).WithCause(err)
	}
	data := []byte(stringParam(params, "content", ""))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProviderFailure, "write file: %v", err).WithCause(err)
	}

	return map[string]any{
		"path":    path,
		"size":    len(data),
		"created": true,
	}, nil
}
