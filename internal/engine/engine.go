// Package engine turns workflow definitions into tracked executions and
// advances them step by step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/pkg/schema"
)

const tracerName = "github.com/rendis/stepwise/internal/engine"

var (
	// ErrExecutionCancelled is the cause attached to a run context by Cancel.
	ErrExecutionCancelled = errors.New("execution cancelled")
	// ErrEngineClosed is the cause attached to run contexts when the engine shuts down.
	ErrEngineClosed = errors.New("engine closed")
)

// ToolProvider runs tools by name.
type ToolProvider interface {
	Has(name string) bool
	Execute(ctx context.Context, name string, params map[string]any) *schema.ToolResult
}

// DefaultLeaseTTL is how long a RUNNING execution stays owned by the process
// running it without a lease renewal.
const DefaultLeaseTTL = 30 * time.Second

// Config tunes the engine.
type Config struct {
	PoolSize        int
	RetryEnabled    bool
	EnforceTimeouts bool
	// LeaseTTL bounds how stale a RUNNING execution's updated_at may be
	// before another process treats it as abandoned. Zero means DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{PoolSize: 10, RetryEnabled: true, EnforceTimeouts: true, LeaseTTL: DefaultLeaseTTL}
}

func (c Config) leaseTTL() time.Duration {
	if c.LeaseTTL <= 0 {
		return DefaultLeaseTTL
	}
	return c.LeaseTTL
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithEventHub publishes committed events to hub.
func WithEventHub(hub streaming.EventHub) Option {
	return func(e *Engine) { e.hub = hub }
}

// WithMetrics records engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the provider for run and step spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine creates executions, runs them on a bounded pool and exposes their status.
type Engine struct {
	store    store.Store
	tools    ToolProvider
	hub      streaming.EventHub
	registry *ExecutionRegistry
	pool     *WorkerPool
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	cfg      Config

	handlersMu sync.RWMutex
	handlers   map[schema.StepType]StepHandler

	baseCtx context.Context
	stop    context.CancelCauseFunc
}

// New creates an Engine backed by st that invokes tools through tools.
func New(st store.Store, tools ToolProvider, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: store is required")
	}
	if tools == nil {
		return nil, errors.New("engine: tool provider is required")
	}
	evaluator, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:    st,
		tools:    tools,
		registry: NewExecutionRegistry(),
		pool:     NewWorkerPool(cfg.PoolSize),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.baseCtx, e.stop = context.WithCancelCause(context.Background())
	e.pool.onPanic = func(r any) {
		e.logger.Error("execution run panicked", slog.Any("panic", r))
	}

	e.handlers = map[schema.StepType]StepHandler{
		schema.StepTool:      &toolHandler{tools: tools, cfg: cfg, metrics: e.metrics},
		schema.StepCondition: &conditionHandler{steps: st, evaluator: evaluator},
		schema.StepDelay:     delayHandler{},
	}
	return e, nil
}

// RegisterHandler installs or replaces the handler for a step type.
func (e *Engine) RegisterHandler(t schema.StepType, h StepHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[t] = h
}

// Registry exposes the in-flight execution registry.
func (e *Engine) Registry() *ExecutionRegistry { return e.registry }

// Pool exposes the worker pool, mainly for its metrics.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// Start creates a PENDING execution of an ACTIVE definition. The run is
// scheduled only after the creating transaction commits.
func (e *Engine) Start(ctx context.Context, workflowID string, params map[string]any, executedBy string) (*store.Execution, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.start",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	def, err := e.store.GetDefinition(ctx, workflowID)
	if err != nil {
		if schema.IsNotFound(err) {
			err = schema.NewErrorf(schema.ErrCodeNotFound, "workflow definition not found: %s", workflowID)
		}
		recordError(span, err)
		return nil, err
	}
	if def.Status != schema.DefinitionActive {
		err := schema.NewErrorf(schema.ErrCodeInvalidState, "workflow definition is not active: %s", workflowID).
			WithDetails(map[string]any{"status": def.Status})
		recordError(span, err)
		return nil, err
	}

	if executedBy == "" {
		executedBy = "unknown"
	}
	if params == nil {
		params = map[string]any{}
	}
	now := time.Now().UTC()
	exec := &store.Execution{
		ID:          uuid.NewString(),
		ExecutionID: uuid.NewString(),
		WorkflowID:  def.ID,
		Status:      schema.ExecutionPending,
		Parameters:  stringify(params),
		TotalSteps:  len(def.Steps),
		StartedAt:   now,
		ExecutedBy:  executedBy,
		UpdatedAt:   now,
	}
	span.SetAttributes(attribute.String("execution.id", exec.ExecutionID))

	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return err
		}
		payload := map[string]any{"workflowId": exec.WorkflowID, "executedBy": executedBy, "totalSteps": exec.TotalSteps}
		ev := &store.Event{ExecutionID: exec.ExecutionID, Type: schema.EventExecutionCreated, Payload: rawJSON(payload)}
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			e.publish(exec.WorkflowID, ev, payload)
			e.schedule(exec.ExecutionID)
		})
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("create execution: %w", err)
	}

	logging.LogWith(logging.WithExecutionID(ctx, exec.ExecutionID), e.logger).Info("execution created",
		slog.String("workflow_id", exec.WorkflowID),
		slog.String("executed_by", executedBy),
		slog.Int("total_steps", exec.TotalSteps))

	out := *exec
	return &out, nil
}

func (e *Engine) schedule(executionID string) {
	err := e.pool.Dispatch(e.baseCtx, func(ctx context.Context) error {
		return e.Run(ctx, executionID)
	})
	if err != nil {
		e.logger.Warn("execution not scheduled", slog.String("execution_id", executionID), slog.Any("error", err))
	}
}

// GetStatus reads the execution from the store.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*ExecutionReport, error) {
	exec, err := e.getExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	r := reportOf(exec)
	return &r, nil
}

// ListRunning returns a snapshot of the executions this process is running.
func (e *Engine) ListRunning() []RunningExecution {
	return e.registry.List()
}

// Cancel moves a RUNNING execution to CANCELLED and interrupts its run.
// It returns false, changing nothing, when the execution is in any other status.
func (e *Engine) Cancel(ctx context.Context, executionID string) (bool, error) {
	exec, err := e.getExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	if exec.Status != schema.ExecutionRunning {
		return false, nil
	}

	ok, err := e.transition(ctx, exec, schema.ExecutionRunning, triggerCancel, store.ExecutionUpdate{}, map[string]any{
		"completedSteps": exec.CompletedSteps,
		"totalSteps":     exec.TotalSteps,
	})
	if err != nil || !ok {
		return false, err
	}
	e.registry.Cancel(executionID, ErrExecutionCancelled)
	e.metrics.executionFinished(schema.ExecutionCancelled)

	logging.LogWith(logging.WithExecutionID(ctx, executionID), e.logger).Info("execution cancelled")
	return true, nil
}

// History lists executions of a definition, newest first.
func (e *Engine) History(ctx context.Context, workflowID string, limit int) ([]*store.Execution, error) {
	return e.store.ListExecutions(ctx, store.ExecutionFilter{WorkflowID: workflowID, Limit: limit})
}

// Steps lists the step records of an execution in order.
func (e *Engine) Steps(ctx context.Context, executionID string) ([]*store.StepExecution, error) {
	if _, err := e.getExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.ListStepExecutions(ctx, executionID, nil)
}

// Events returns logged events of an execution with sequence greater than since.
func (e *Engine) Events(ctx context.Context, executionID string, since int64) ([]*store.Event, error) {
	if _, err := e.getExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, executionID, since)
}

// RecoverInterrupted reschedules PENDING executions and fails RUNNING ones
// whose lease has expired, i.e. whose owning process stopped renewing them.
// Executions held by a live process, this one or another sharing the store,
// are left alone. It returns how many it touched.
func (e *Engine) RecoverInterrupted(ctx context.Context) (int, error) {
	pending := schema.ExecutionPending
	queued, err := e.store.ListExecutions(ctx, store.ExecutionFilter{Status: &pending})
	if err != nil {
		return 0, fmt.Errorf("list pending executions: %w", err)
	}
	running := schema.ExecutionRunning
	orphaned, err := e.store.ListExecutions(ctx, store.ExecutionFilter{Status: &running})
	if err != nil {
		return 0, fmt.Errorf("list running executions: %w", err)
	}

	cutoff := time.Now().Add(-e.cfg.leaseTTL())
	n := 0
	for _, exec := range orphaned {
		if _, owned := e.registry.Get(exec.ExecutionID); owned || exec.UpdatedAt.After(cutoff) {
			continue
		}
		msg := "execution interrupted by restart"
		ok, err := e.transition(ctx, exec, schema.ExecutionRunning, triggerFail,
			store.ExecutionUpdate{ErrorMessage: &msg}, map[string]any{"errorMessage": msg})
		if err != nil {
			return n, err
		}
		if ok {
			e.metrics.executionFinished(schema.ExecutionFailed)
			n++
		}
	}
	rescheduled := 0
	for _, exec := range queued {
		if exec.UpdatedAt.After(cutoff) {
			continue
		}
		e.schedule(exec.ExecutionID)
		rescheduled++
	}
	n += rescheduled
	if n > 0 {
		e.logger.InfoContext(ctx, "recovered interrupted executions",
			slog.Int("rescheduled", rescheduled), slog.Int("total", n))
	}
	return n, nil
}

// WatchInterrupted runs RecoverInterrupted once per lease period until ctx
// ends, so executions abandoned by a crashed peer are eventually failed.
func (e *Engine) WatchInterrupted(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.leaseTTL())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RecoverInterrupted(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("recover interrupted executions", slog.Any("error", err))
			}
		}
	}
}

// holdLease renews the lease of a running execution until ctx ends.
func (e *Engine) holdLease(ctx context.Context, executionID string) {
	ticker := time.NewTicker(e.cfg.leaseTTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := e.store.RenewExecution(ctx, executionID)
			if err != nil {
				logging.LogWith(ctx, e.logger).Warn("failed to renew execution lease", slog.Any("error", err))
				continue
			}
			if !held {
				return
			}
		}
	}
}

// Wait blocks until every scheduled run has finished.
func (e *Engine) Wait() {
	e.pool.Wait()
}

// Close stops accepting runs and waits for in-flight runs until ctx expires,
// after which their contexts are cancelled. Runs interrupted this way stay
// RUNNING and are failed by a later RecoverInterrupted once their lease lapses.
func (e *Engine) Close(ctx context.Context) error {
	err := e.pool.Shutdown(ctx)
	e.stop(ErrEngineClosed)
	return err
}

func (e *Engine) getExecution(ctx context.Context, executionID string) (*store.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
		}
		return nil, err
	}
	return exec, nil
}

// transition applies trigger to an execution in status from, appending the
// matching event in the same transaction. The event is published after commit.
// It reports false when the row had already left from.
func (e *Engine) transition(ctx context.Context, exec *store.Execution, from schema.ExecutionStatus, trigger string, update store.ExecutionUpdate, payload map[string]any) (bool, error) {
	to, err := nextExecutionStatus(from, trigger)
	if err != nil {
		return false, err
	}
	update.Status = &to
	var completedAt time.Time
	var duration int64
	if to.IsTerminal() {
		completedAt = time.Now().UTC()
		duration = completedAt.Sub(exec.StartedAt).Milliseconds()
		update.CompletedAt = &completedAt
		update.DurationMs = &duration
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = to

	applied := false
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.TransitionExecution(ctx, exec.ExecutionID, from, update)
		if err != nil || !ok {
			return err
		}
		ev := &store.Event{ExecutionID: exec.ExecutionID, Type: schema.ExecutionEventType(to), Payload: rawJSON(payload)}
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}
		tx.AfterCommit(func() { e.publish(exec.WorkflowID, ev, payload) })
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("transition execution to %s: %w", to, err)
	}
	if !applied {
		return false, nil
	}

	exec.Status = to
	if to.IsTerminal() {
		exec.CompletedAt = &completedAt
		exec.DurationMs = &duration
	}
	return true, nil
}

// appendEvent logs a non-transition event and publishes it. Failures are logged only.
func (e *Engine) appendEvent(ctx context.Context, exec *store.Execution, stepName, eventType string, payload map[string]any) {
	ev := &store.Event{ExecutionID: exec.ExecutionID, StepName: stepName, Type: eventType, Payload: rawJSON(payload)}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		logging.LogWith(ctx, e.logger).Warn("failed to append event",
			slog.String("event_type", eventType), slog.Any("error", err))
		return
	}
	e.publish(exec.WorkflowID, ev, payload)
}

func (e *Engine) publish(workflowID string, ev *store.Event, payload map[string]any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(context.Background(), streaming.StreamEvent{
		ExecutionID: ev.ExecutionID,
		WorkflowID:  workflowID,
		StepName:    ev.StepName,
		EventType:   ev.Type,
		Sequence:    ev.Sequence,
		Payload:     payload,
		Timestamp:   ev.Timestamp,
	})
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
