package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/stepwise/internal/logging"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const completedResult = "workflow completed successfully"

// Run drives one execution from PENDING to a terminal status. It is called by
// the worker pool after Start commits and is safe to call for an execution
// that is no longer PENDING, in which case it does nothing.
//
// Every write after RUNNING is conditional on the row still being RUNNING,
// so a concurrent Cancel is never overwritten.
func (e *Engine) Run(ctx context.Context, executionID string) (err error) {
	ctx = logging.WithExecutionID(ctx, executionID)
	log := logging.LogWith(ctx, e.logger)
	defer func() {
		if r := recover(); r != nil {
			log.Error("execution run panicked", slog.Any("panic", r))
			err = schema.NewErrorf(schema.ErrCodeExecution, "execution error: %v", r)
		}
	}()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		log.Error("failed to load execution", slog.Any("error", err))
		return err
	}
	def, err := e.store.GetDefinition(ctx, exec.WorkflowID)
	if err != nil {
		log.Error("failed to load workflow definition", slog.String("workflow_id", exec.WorkflowID), slog.Any("error", err))
		return err
	}
	ctx = logging.WithInitiator(ctx, exec.ExecutedBy)
	log = logging.LogWith(ctx, e.logger)

	// Store writes must outlive cancellation of the run.
	storeCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ok, err := e.transition(storeCtx, exec, schema.ExecutionPending, triggerStart, store.ExecutionUpdate{}, map[string]any{
		"totalSteps": exec.TotalSteps,
	})
	if err != nil {
		log.Error("failed to start execution", slog.Any("error", err))
		return err
	}
	if !ok {
		log.Info("execution is no longer pending, skipping run")
		return nil
	}

	e.registry.Put(RunningExecution{
		ExecutionID: exec.ExecutionID,
		WorkflowID:  exec.WorkflowID,
		Status:      schema.ExecutionRunning,
		TotalSteps:  exec.TotalSteps,
		StartedAt:   exec.StartedAt,
	}, cancel)
	defer e.registry.Remove(executionID)

	leaseCtx, releaseLease := context.WithCancel(storeCtx)
	leaseDone := make(chan struct{})
	go func() {
		defer close(leaseDone)
		e.holdLease(leaseCtx, executionID)
	}()
	defer func() {
		releaseLease()
		<-leaseDone
	}()
	e.metrics.executionStarted()
	defer e.metrics.runEnded()

	runCtx, span := e.tracer.Start(runCtx, "workflow.run", trace.WithAttributes(
		attribute.String("execution.id", exec.ExecutionID),
		attribute.String("workflow.id", exec.WorkflowID),
		attribute.Int("workflow.steps", exec.TotalSteps),
	))
	defer span.End()
	log.Info("execution started", slog.String("workflow_id", exec.WorkflowID))

	params := decodeParams(exec.Parameters)
	for i, step := range def.SortedSteps() {
		if errors.Is(context.Cause(runCtx), ErrEngineClosed) {
			log.Warn("engine closed, leaving execution for recovery", slog.Int("step_index", i))
			return nil
		}
		idx := i
		ok, err := e.store.TransitionExecution(storeCtx, executionID, schema.ExecutionRunning,
			store.ExecutionUpdate{CurrentStepIndex: &idx})
		if err != nil {
			recordError(span, err)
			log.Error("failed to advance execution", slog.Any("error", err))
			return err
		}
		if !ok {
			log.Info("execution left RUNNING, stopping", slog.Int("step_index", idx))
			return nil
		}
		exec.CurrentStepIndex = idx

		status, stepErr := e.runStep(runCtx, storeCtx, exec, step, params)
		switch status {
		case schema.StepCompleted:
			completed := exec.CompletedSteps + 1
			ok, err := e.store.TransitionExecution(storeCtx, executionID, schema.ExecutionRunning,
				store.ExecutionUpdate{CompletedSteps: &completed})
			if err != nil {
				recordError(span, err)
				log.Error("failed to record step completion", slog.Any("error", err))
				return err
			}
			if !ok {
				log.Info("execution left RUNNING, stopping", slog.Int("step_index", idx))
				return nil
			}
			exec.CompletedSteps = completed
			e.registry.Update(executionID, func(r *RunningExecution) { r.CompletedSteps = completed })

		case schema.StepCancelled:
			span.SetStatus(codes.Error, "cancelled")
			if errors.Is(context.Cause(runCtx), ErrEngineClosed) {
				log.Warn("engine closed during step, leaving execution for recovery", slog.String("step", step.Name))
				return nil
			}
			log.Info("execution cancelled during step", slog.String("step", step.Name))
			return nil

		default:
			msg := "step execution failed: " + step.Name
			span.SetStatus(codes.Error, msg)
			if stepErr != nil {
				span.RecordError(stepErr)
			}
			return e.finish(storeCtx, exec, triggerFail, store.ExecutionUpdate{ErrorMessage: &msg},
				map[string]any{"errorMessage": msg, "step": step.Name})
		}
	}

	result := completedResult
	return e.finish(storeCtx, exec, triggerComplete, store.ExecutionUpdate{Result: &result},
		map[string]any{"result": result})
}

func (e *Engine) finish(ctx context.Context, exec *store.Execution, trigger string, update store.ExecutionUpdate, payload map[string]any) error {
	log := logging.LogWith(ctx, e.logger)
	payload["completedSteps"] = exec.CompletedSteps
	payload["totalSteps"] = exec.TotalSteps

	ok, err := e.transition(ctx, exec, schema.ExecutionRunning, trigger, update, payload)
	if err != nil {
		log.Error("failed to finish execution", slog.Any("error", err))
		return err
	}
	if !ok {
		log.Info("execution left RUNNING before it finished")
		return nil
	}
	e.metrics.executionFinished(exec.Status)
	log.Info("execution finished",
		slog.String("status", string(exec.Status)),
		slog.Int("completed_steps", exec.CompletedSteps),
		slog.Int("total_steps", exec.TotalSteps))
	return nil
}

// runStep records and dispatches one step. It returns the step's final status.
func (e *Engine) runStep(runCtx, storeCtx context.Context, exec *store.Execution, step schema.StepDefinition, params map[string]any) (schema.StepStatus, error) {
	runCtx = logging.WithStep(runCtx, step.Name)
	storeCtx = logging.WithStep(storeCtx, step.Name)
	log := logging.LogWith(runCtx, e.logger)

	runCtx, span := e.tracer.Start(runCtx, "workflow.step", trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.type", string(step.Type)),
		attribute.Int("step.order", step.OrderIndex),
	))
	defer span.End()

	sm := newStepMachine()
	rec := &store.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ExecutionID,
		StepName:    step.Name,
		StepType:    step.Type,
		Status:      stepStatus(sm),
		OrderIndex:  step.OrderIndex,
		ToolName:    step.ToolName,
	}
	if err := e.store.CreateStepExecution(storeCtx, rec); err != nil {
		err = fmt.Errorf("create step record: %w", err)
		recordError(span, err)
		log.Error("failed to create step record", slog.Any("error", err))
		return schema.StepFailed, err
	}

	if err := fire(sm, triggerStart); err != nil {
		return schema.StepFailed, err
	}
	startedAt := time.Now().UTC()
	running := stepStatus(sm)
	rec.Status = running
	rec.StartedAt = &startedAt
	if err := e.store.UpdateStepExecution(storeCtx, rec.ID, store.StepExecutionUpdate{Status: &running, StartedAt: &startedAt}); err != nil {
		log.Warn("failed to mark step running", slog.Any("error", err))
	}
	e.appendEvent(storeCtx, exec, step.Name, schema.EventStepStarted, map[string]any{
		"stepType":   step.Type,
		"orderIndex": step.OrderIndex,
	})

	run := &StepRun{
		Execution: exec,
		Step:      step,
		Params:    params,
		Record:    rec,
		emit: func(eventType string, payload map[string]any) {
			e.appendEvent(storeCtx, exec, step.Name, eventType, payload)
		},
	}
	handlerErr := e.dispatch(runCtx, run)

	trigger := triggerComplete
	switch {
	case handlerErr == nil:
	case errors.Is(context.Cause(runCtx), ErrExecutionCancelled):
		trigger = triggerCancel
		rec.ErrorMessage = ErrExecutionCancelled.Error()
	case errors.Is(context.Cause(runCtx), ErrEngineClosed):
		trigger = triggerCancel
		rec.ErrorMessage = ErrEngineClosed.Error()
	default:
		trigger = triggerFail
		rec.ErrorMessage = errorText(handlerErr)
	}
	if err := fire(sm, trigger); err != nil {
		return schema.StepFailed, err
	}

	completedAt := time.Now().UTC()
	elapsed := completedAt.Sub(startedAt)
	duration := elapsed.Milliseconds()
	final := stepStatus(sm)
	rec.Status = final
	rec.CompletedAt = &completedAt
	rec.DurationMs = &duration

	if err := e.store.UpdateStepExecution(storeCtx, rec.ID, store.StepExecutionUpdate{
		Status:          &final,
		InputParameters: &rec.InputParameters,
		OutputResult:    &rec.OutputResult,
		ErrorMessage:    &rec.ErrorMessage,
		ExecutionLog:    &rec.ExecutionLog,
		RetryCount:      &rec.RetryCount,
		CompletedAt:     &completedAt,
		DurationMs:      &duration,
	}); err != nil {
		log.Error("failed to persist step result", slog.Any("error", err))
	}

	payload := map[string]any{"status": final, "durationMs": duration, "retryCount": rec.RetryCount}
	if rec.ErrorMessage != "" {
		payload["errorMessage"] = rec.ErrorMessage
	}
	e.appendEvent(storeCtx, exec, step.Name, stepEventType(final), payload)
	e.metrics.stepFinished(step.Type, final, elapsed)

	if final == schema.StepCompleted {
		log.Info("step completed", slog.Int64("duration_ms", duration))
	} else {
		span.SetStatus(codes.Error, rec.ErrorMessage)
		log.Warn("step did not complete", slog.String("status", string(final)), slog.String("error", rec.ErrorMessage))
	}
	return final, handlerErr
}

// dispatch is the single entry point to step handlers. Panics become step failures.
func (e *Engine) dispatch(ctx context.Context, run *StepRun) (err error) {
	e.handlersMu.RLock()
	h, ok := e.handlers[run.Step.Type]
	e.handlersMu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported step type: %s", run.Step.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "execution error: %v", r)
		}
	}()
	return h.Handle(ctx, run)
}

func stepEventType(status schema.StepStatus) string {
	switch status {
	case schema.StepCompleted:
		return schema.EventStepCompleted
	case schema.StepCancelled:
		return schema.EventStepCancelled
	default:
		return schema.EventStepFailed
	}
}

func errorText(err error) string {
	var se *schema.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
