package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

func TestValidator_ValidateInput(t *testing.T) {
	v := NewValidator()
	inputSchema := []byte(searchCodebaseInputSchema)

	require.NoError(t, v.ValidateInput(map[string]any{"query": "func main"}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"query": "x", "includeDirs": "a,b"}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"query": "x", "includeDirs": []any{"a"}}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"anything": 1}, nil))

	err := v.ValidateInput(map[string]any{}, inputSchema)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = v.ValidateInput(map[string]any{"query": 5, "includeDirs": 3}, inputSchema)
	require.Error(t, err)
	var serr *schema.Error
	require.ErrorAs(t, err, &serr)
	violations, ok := serr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

func TestValidator_CachesCompiledSchemas(t *testing.T) {
	v := NewValidator()
	s := []byte(createFileInputSchema)
	require.NoError(t, v.ValidateInput(map[string]any{"path": "a", "content": ""}, s))
	require.NoError(t, v.ValidateInput(map[string]any{"path": "b", "content": "x"}, s))
	assert.Len(t, v.cache, 1)
}

func TestValidator_InvalidSchema(t *testing.T) {
	v := NewValidator()
	err := v.ValidateInput(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
