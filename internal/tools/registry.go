package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// Registry is the thread-safe set of available tools. It implements the
// engine's tool provider contract.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator *Validator
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry. A nil validator skips input validation.
func NewRegistry(validator *Validator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]Tool),
		validator: validator,
		logger:    logger,
	}
}

// Register adds a tool. Returns a CONFLICT error on duplicate names.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool not found: %s", name)
	}
	return tool, nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, info(t))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Info returns the description of one tool.
func (r *Registry) Info(name string) (schema.ToolInfo, bool) {
	t, err := r.Get(name)
	if err != nil {
		return schema.ToolInfo{}, false
	}
	return info(t), true
}

func info(t Tool) schema.ToolInfo {
	s := t.Schema()
	return schema.ToolInfo{Name: t.Name(), Description: s.Description, InputSchema: s.InputSchema}
}

// Execute invokes a tool and folds every outcome into a ToolResult.
// Unknown tools and invalid input are reported with VALIDATION_ERROR so
// callers never retry them.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (res *schema.ToolResult) {
	start := time.Now()
	if params == nil {
		params = map[string]any{}
	}

	tool, err := r.Get(name)
	if err != nil {
		return schema.ToolFailure(schema.ErrCodeValidation, "tool not found: "+name, time.Since(start))
	}

	if r.validator != nil {
		if err := r.validator.ValidateInput(params, tool.Schema().InputSchema); err != nil {
			return schema.ToolFailure(schema.ErrCodeValidation, errorMessage(err), time.Since(start))
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "tool panicked", slog.String("tool", name), slog.Any("panic", p))
			res = schema.ToolFailure(schema.ErrCodeProviderFailure, fmt.Sprintf("tool %s panicked: %v", name, p), time.Since(start))
		}
	}()

	out, err := tool.Execute(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		return schema.ToolFailure(failureCode(ctx, err), errorMessage(err), elapsed)
	}
	return schema.ToolSuccess(out, elapsed)
}

func failureCode(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schema.ErrCodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return schema.ErrCodeCancelled
	}
	var serr *schema.Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return schema.ErrCodeProviderFailure
}

func errorMessage(err error) string {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return serr.Message
	}
	return err.Error()
}
