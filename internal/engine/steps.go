package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cast"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

// StepHandler executes one kind of step. A nil error completes the step;
// any error fails it and its text becomes the step's error message.
type StepHandler interface {
	Handle(ctx context.Context, run *StepRun) error
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, run *StepRun) error

func (f StepHandlerFunc) Handle(ctx context.Context, run *StepRun) error { return f(ctx, run) }

// StepRun is the mutable state of one step attempt handed to a handler.
// Handlers fill Record's input, output and log; the engine persists them.
type StepRun struct {
	Execution *store.Execution
	Step      schema.StepDefinition
	// Params are the execution's runtime parameters.
	Params map[string]any
	Record *store.StepExecution

	emit func(eventType string, payload map[string]any)
}

// Log appends a timestamped line to the step execution log.
func (r *StepRun) Log(format string, args ...any) {
	r.Record.AppendLog(time.Now(), fmt.Sprintf(format, args...))
}

// Emit appends an intermediate event for this step to the event log.
func (r *StepRun) Emit(eventType string, payload map[string]any) {
	if r.emit != nil {
		r.emit(eventType, payload)
	}
}

// --- TOOL ---

type toolHandler struct {
	tools   ToolProvider
	cfg     Config
	metrics *Metrics
}

func (h *toolHandler) Handle(ctx context.Context, run *StepRun) error {
	name := strings.TrimSpace(run.Step.ToolName)
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name cannot be empty")
	}
	if !h.tools.Has(name) {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool not found: %s", name)
	}

	params := mergeParams(run.Step.Parameters, run.Params)
	run.Record.InputParameters = stringify(params)

	retries := 0
	if h.cfg.RetryEnabled {
		retries = run.Step.Retries()
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(max(run.Step.RetryDelay(), time.Millisecond)))

	var last *schema.ToolResult
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			run.Record.RetryCount = attempt - 1
			h.metrics.toolRetried(name)
			run.Log("retrying tool: %s (attempt %d)", name, attempt)
			run.Emit(schema.EventStepRetrying, map[string]any{
				"attempt":      attempt,
				"errorMessage": last.ErrorMessage,
			})
		}

		last = h.invoke(ctx, name, params, run.Step.Timeout())
		if last.Success {
			return nil
		}
		failure := toolError(last)
		if last.Retryable() && ctx.Err() == nil {
			return retry.RetryableError(failure)
		}
		return failure
	})

	if err == nil {
		run.Record.OutputResult = stringify(last.Result)
		run.Log("tool executed: %s", name)
		return nil
	}
	if last == nil {
		// Context ended before the first attempt.
		return err
	}
	run.Log("tool execution failed: %s - %s", name, last.ErrorMessage)
	if last.Result != nil {
		run.Record.OutputResult = stringify(last.Result)
	}
	return toolError(last)
}

func toolError(res *schema.ToolResult) *schema.Error {
	code := res.Code
	if code == "" {
		code = schema.ErrCodeProviderFailure
	}
	return schema.NewError(code, res.ErrorMessage)
}

// invoke runs one attempt under the step timeout. The provider call is
// abandoned, not awaited, once ctx ends.
func (h *toolHandler) invoke(ctx context.Context, name string, params map[string]any, timeout time.Duration) *schema.ToolResult {
	if h.cfg.EnforceTimeouts && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan *schema.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- schema.ToolFailure(schema.ErrCodeProviderFailure, fmt.Sprintf("execution error: %v", r), time.Since(start))
			}
		}()
		done <- h.tools.Execute(ctx, name, params)
	}()

	select {
	case res := <-done:
		if res == nil {
			return schema.ToolFailure(schema.ErrCodeProviderFailure, "tool returned no result: "+name, time.Since(start))
		}
		if !res.Success && ctx.Err() != nil {
			return interrupted(ctx, name, timeout, start)
		}
		return res
	case <-ctx.Done():
		return interrupted(ctx, name, timeout, start)
	}
}

func interrupted(ctx context.Context, name string, timeout time.Duration, start time.Time) *schema.ToolResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schema.ToolFailure(schema.ErrCodeTimeout,
			fmt.Sprintf("tool %s timed out after %s", name, timeout), time.Since(start))
	}
	return schema.ToolFailure(schema.ErrCodeCancelled,
		fmt.Sprintf("tool %s interrupted: %v", name, context.Cause(ctx)), time.Since(start))
}

// --- CONDITION ---

type conditionHandler struct {
	steps     store.StepStore
	evaluator *ConditionEvaluator
}

func (h *conditionHandler) Handle(ctx context.Context, run *StepRun) error {
	condition := strings.TrimSpace(run.Step.Condition)
	if condition == "" {
		return schema.NewError(schema.ErrCodeValidation, "condition expression cannot be empty")
	}

	count, err := h.latestResultCount(ctx, run.Execution.ExecutionID)
	if err != nil {
		return err
	}
	result := h.evaluator.Evaluate(condition, count)

	run.Record.InputParameters = stringify(map[string]any{"condition": condition, "resultCount": count})
	run.Record.OutputResult = fmt.Sprintf("condition result: %t, resultCount=%d", result, count)
	run.Log("condition evaluated: %s = %t", condition, result)
	run.Emit(schema.EventConditionEvaluated, map[string]any{
		"condition":   condition,
		"result":      result,
		"resultCount": count,
	})

	if !result {
		return schema.NewErrorf(schema.ErrCodeExecution, "condition evaluated to false: %s", condition)
	}
	return nil
}

// latestResultCount reads totalCount from the completed step with the highest order index.
func (h *conditionHandler) latestResultCount(ctx context.Context, executionID string) (int, error) {
	completed := schema.StepCompleted
	records, err := h.steps.ListStepExecutions(ctx, executionID, &completed)
	if err != nil {
		return 0, fmt.Errorf("load completed steps: %w", err)
	}
	var latest *store.StepExecution
	for _, rec := range records {
		if latest == nil || rec.OrderIndex > latest.OrderIndex {
			latest = rec
		}
	}
	if latest == nil {
		return 0, nil
	}
	return h.evaluator.ExtractTotalCount(ctx, latest.OutputResult), nil
}

// --- DELAY ---

type delayHandler struct{}

func (delayHandler) Handle(ctx context.Context, run *StepRun) error {
	ms, ok := parseDelay(run.Step.Config["delay"])
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, "invalid delay")
	}
	run.Record.InputParameters = stringify(map[string]any{"delay": ms})
	run.Log("delay started: %dms", ms)

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return schema.NewErrorf(schema.ErrCodeCancelled, "delay interrupted: %v", context.Cause(ctx))
	}

	run.Log("delay finished")
	run.Record.OutputResult = fmt.Sprintf("delay completed: %dms", ms)
	return nil
}

// maxDelayMs is the longest delay a time.Duration can hold.
const maxDelayMs = math.MaxInt64 / int64(time.Millisecond)

// parseDelay accepts numbers and base-10 integer strings. Fractions of a
// number are truncated. Values beyond maxDelayMs are rejected.
func parseDelay(v any) (int64, bool) {
	var (
		n   int64
		err error
	)
	switch x := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case json.Number:
		n, err = x.Int64()
		if err != nil {
			var f float64
			f, err = x.Float64()
			n = int64(f)
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		n, err = cast.ToInt64E(x)
	default:
		return 0, false
	}
	if err != nil || n <= 0 || n > maxDelayMs {
		return 0, false
	}
	return n, true
}
