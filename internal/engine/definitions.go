package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// CreateDefinition validates def and stores it as a DRAFT with step defaults applied.
func (e *Engine) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) (*schema.WorkflowDefinition, error) {
	if err := schema.ValidateDefinition(def).ToError(); err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	def.Status = schema.DefinitionDraft
	def.ApplyDefaults()
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := e.store.CreateDefinition(ctx, def); err != nil {
		return nil, fmt.Errorf("create definition: %w", err)
	}
	e.logger.InfoContext(ctx, "workflow definition created",
		slog.String("workflow_id", def.ID), slog.String("name", def.Name), slog.Int("steps", len(def.Steps)))
	return def, nil
}

// GetDefinition returns a definition with its steps.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	def, err := e.store.GetDefinition(ctx, id)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition not found: %s", id)
		}
		return nil, err
	}
	return def, nil
}

// ListDefinitions lists definitions, optionally restricted to one status.
func (e *Engine) ListDefinitions(ctx context.Context, status *schema.DefinitionStatus) ([]*schema.WorkflowDefinition, error) {
	return e.store.ListDefinitions(ctx, store.DefinitionFilter{Status: status})
}

// SetDefinitionStatus activates, deactivates or deprecates a definition.
func (e *Engine) SetDefinitionStatus(ctx context.Context, id string, status schema.DefinitionStatus) error {
	if !status.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown definition status: %s", status)
	}
	if _, err := e.GetDefinition(ctx, id); err != nil {
		return err
	}
	if err := e.store.UpdateDefinitionStatus(ctx, id, status); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "workflow definition status changed",
		slog.String("workflow_id", id), slog.String("status", string(status)))
	return nil
}

// DeleteDefinition removes a definition and its steps.
func (e *Engine) DeleteDefinition(ctx context.Context, id string) error {
	if _, err := e.GetDefinition(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteDefinition(ctx, id)
}

// DefinitionByName returns the oldest definition with the given name.
func (e *Engine) DefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error) {
	def, err := e.store.GetDefinitionByName(ctx, name)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition not found: %s", name)
		}
		return nil, err
	}
	return def, nil
}
