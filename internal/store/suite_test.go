package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/pkg/schema"
)

// runStoreSuite exercises a Store implementation. Tests key every row by
// fresh ids so a single database may back all subtests.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"DefinitionRoundTrip", testDefinitionRoundTrip},
		{"DefinitionNotFound", testDefinitionNotFound},
		{"DefinitionStatusAndList", testDefinitionStatusAndList},
		{"DeleteDefinition", testDeleteDefinition},
		{"ExecutionLifecycle", testExecutionLifecycle},
		{"TransitionExecution", testTransitionExecution},
		{"RenewExecution", testRenewExecution},
		{"ListExecutions", testListExecutions},
		{"StepExecutions", testStepExecutions},
		{"EventSequence", testEventSequence},
		{"EventSequenceConcurrent", testEventSequenceConcurrent},
		{"WithTxCommitHooks", testWithTxCommitHooks},
		{"WithTxRollback", testWithTxRollback},
		{"ScheduledJobs", testScheduledJobs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
func strPtr(s string) *string { return &s }

func sampleDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:          uuid.NewString(),
		Name:        "search-" + uuid.NewString()[:8],
		Description: "search then decide",
		Version:     "1.0.0",
		Status:      schema.DefinitionActive,
		Parameters:  map[string]any{"query": "retry"},
		CreatedBy:   "tester",
		Steps: []schema.StepDefinition{
			{
				Name:       "decide",
				Type:       schema.StepCondition,
				OrderIndex: 2,
				Condition:  "resultCount > 0",
			},
			{
				Name:         "search",
				Type:         schema.StepTool,
				OrderIndex:   1,
				ToolName:     "search_codebase",
				Parameters:   map[string]any{"fileType": "go"},
				MaxRetries:   intPtr(2),
				RetryDelayMs: int64Ptr(10),
				TimeoutMs:    int64Ptr(5000),
			},
		},
	}
}

func seedExecution(t *testing.T, s Store, status schema.ExecutionStatus) *Execution {
	t.Helper()
	exec := &Execution{
		ID:          uuid.NewString(),
		ExecutionID: uuid.NewString(),
		WorkflowID:  uuid.NewString(),
		Status:      status,
		Parameters:  `{"query":"x"}`,
		TotalSteps:  3,
		ExecutedBy:  "tester",
		Tags:        []string{"a", "b"},
	}
	require.NoError(t, s.CreateExecution(context.Background(), exec))
	return exec
}

func testDefinitionRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	def := sampleDefinition()
	require.NoError(t, s.CreateDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, schema.DefinitionActive, got.Status)
	assert.Equal(t, "retry", got.Parameters["query"])
	require.Len(t, got.Steps, 2)

	// Steps come back ordered by order index.
	assert.Equal(t, "search", got.Steps[0].Name)
	assert.Equal(t, "search_codebase", got.Steps[0].ToolName)
	assert.Equal(t, "go", got.Steps[0].Parameters["fileType"])
	require.NotNil(t, got.Steps[0].MaxRetries)
	assert.Equal(t, 2, *got.Steps[0].MaxRetries)
	assert.Equal(t, int64(10), *got.Steps[0].RetryDelayMs)
	assert.Equal(t, "resultCount > 0", got.Steps[1].Condition)
	assert.Nil(t, got.Steps[1].MaxRetries)

	byName, err := s.GetDefinitionByName(ctx, def.Name)
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)
}

func testDefinitionNotFound(t *testing.T, s Store) {
	_, err := s.GetDefinition(context.Background(), "missing-"+uuid.NewString())
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))

	err = s.UpdateDefinitionStatus(context.Background(), "missing", schema.DefinitionActive)
	assert.True(t, schema.IsNotFound(err))
}

func testDefinitionStatusAndList(t *testing.T, s Store) {
	ctx := context.Background()
	def := sampleDefinition()
	def.Status = schema.DefinitionDraft
	require.NoError(t, s.CreateDefinition(ctx, def))

	require.NoError(t, s.UpdateDefinitionStatus(ctx, def.ID, schema.DefinitionInactive))

	inactive := schema.DefinitionInactive
	defs, err := s.ListDefinitions(ctx, DefinitionFilter{Status: &inactive, Name: def.Name})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, def.ID, defs[0].ID)
	assert.Len(t, defs[0].Steps, 2)

	active := schema.DefinitionActive
	defs, err = s.ListDefinitions(ctx, DefinitionFilter{Status: &active, Name: def.Name})
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func testDeleteDefinition(t *testing.T, s Store) {
	ctx := context.Background()
	def := sampleDefinition()
	require.NoError(t, s.CreateDefinition(ctx, def))

	require.NoError(t, s.DeleteDefinition(ctx, def.ID))
	_, err := s.GetDefinition(ctx, def.ID)
	assert.True(t, schema.IsNotFound(err))
	assert.True(t, schema.IsNotFound(s.DeleteDefinition(ctx, def.ID)))
}

func testExecutionLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	exec := seedExecution(t, s, schema.ExecutionPending)

	got, err := s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, schema.ExecutionPending, got.Status)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.DurationMs)

	now := time.Now().UTC()
	status := schema.ExecutionCompleted
	require.NoError(t, s.UpdateExecution(ctx, exec.ExecutionID, ExecutionUpdate{
		Status:         &status,
		Result:         strPtr("done"),
		CompletedSteps: intPtr(3),
		CompletedAt:    &now,
		DurationMs:     int64Ptr(42),
	}))

	got, err = s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.Equal(t, 3, got.CompletedSteps)
	assert.Equal(t, 100.0, got.Progress())
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, now, *got.CompletedAt, time.Second)
	assert.Equal(t, int64(42), *got.DurationMs)

	_, err = s.GetExecution(ctx, "missing-"+uuid.NewString())
	assert.True(t, schema.IsNotFound(err))
}

func testTransitionExecution(t *testing.T, s Store) {
	ctx := context.Background()
	exec := seedExecution(t, s, schema.ExecutionRunning)

	cancelled := schema.ExecutionCancelled
	ok, err := s.TransitionExecution(ctx, exec.ExecutionID, schema.ExecutionRunning, ExecutionUpdate{Status: &cancelled})
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt from RUNNING loses: the row is already CANCELLED.
	completed := schema.ExecutionCompleted
	ok, err = s.TransitionExecution(ctx, exec.ExecutionID, schema.ExecutionRunning, ExecutionUpdate{Status: &completed})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionCancelled, got.Status)

	_, err = s.TransitionExecution(ctx, "missing-"+uuid.NewString(), schema.ExecutionRunning, ExecutionUpdate{Status: &completed})
	assert.True(t, schema.IsNotFound(err))
}

func testRenewExecution(t *testing.T, s Store) {
	ctx := context.Background()
	exec := &Execution{
		ID:          uuid.NewString(),
		ExecutionID: uuid.NewString(),
		WorkflowID:  uuid.NewString(),
		Status:      schema.ExecutionRunning,
		TotalSteps:  1,
		UpdatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.CreateExecution(ctx, exec))

	ok, err := s.RenewExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)

	done := seedExecution(t, s, schema.ExecutionCompleted)
	ok, err = s.RenewExecution(ctx, done.ExecutionID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RenewExecution(ctx, "missing-"+uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func testListExecutions(t *testing.T, s Store) {
	ctx := context.Background()
	workflowID := uuid.NewString()
	for i := 0; i < 3; i++ {
		exec := &Execution{
			ID:          uuid.NewString(),
			ExecutionID: uuid.NewString(),
			WorkflowID:  workflowID,
			Status:      schema.ExecutionRunning,
			StartedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if i == 0 {
			exec.Status = schema.ExecutionCompleted
		}
		require.NoError(t, s.CreateExecution(ctx, exec))
	}

	all, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: workflowID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[2].StartedAt), "newest first")

	running := schema.ExecutionRunning
	runningOnly, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: workflowID, Status: &running})
	require.NoError(t, err)
	assert.Len(t, runningOnly, 2)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: workflowID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testStepExecutions(t *testing.T, s Store) {
	ctx := context.Background()
	exec := seedExecution(t, s, schema.ExecutionRunning)

	now := time.Now().UTC()
	first := &StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ExecutionID,
		StepName:    "search",
		StepType:    schema.StepTool,
		Status:      schema.StepPending,
		OrderIndex:  1,
		ToolName:    "search_codebase",
		StartedAt:   &now,
	}
	second := &StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: exec.ExecutionID,
		StepName:    "decide",
		StepType:    schema.StepCondition,
		Status:      schema.StepRunning,
		OrderIndex:  2,
	}
	require.NoError(t, s.CreateStepExecution(ctx, second))
	require.NoError(t, s.CreateStepExecution(ctx, first))

	done := schema.StepCompleted
	require.NoError(t, s.UpdateStepExecution(ctx, first.ID, StepExecutionUpdate{
		Status:       &done,
		OutputResult: strPtr(`{"totalCount":2}`),
		ExecutionLog: strPtr("2026-01-01T00:00:00Z - tool executed: search_codebase\n"),
		RetryCount:   intPtr(1),
		DurationMs:   int64Ptr(7),
	}))

	steps, err := s.ListStepExecutions(ctx, exec.ExecutionID, nil)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "search", steps[0].StepName)
	assert.Equal(t, schema.StepCompleted, steps[0].Status)
	assert.Equal(t, 1, steps[0].RetryCount)
	assert.JSONEq(t, `{"totalCount":2}`, steps[0].OutputResult)
	assert.Equal(t, "decide", steps[1].StepName)
	assert.Nil(t, steps[1].StartedAt)

	completedOnly, err := s.ListStepExecutions(ctx, exec.ExecutionID, &done)
	require.NoError(t, err)
	require.Len(t, completedOnly, 1)
	assert.Equal(t, first.ID, completedOnly[0].ID)

	assert.True(t, schema.IsNotFound(s.UpdateStepExecution(ctx, "missing", StepExecutionUpdate{Status: &done})))
}

func testEventSequence(t *testing.T, s Store) {
	ctx := context.Background()
	executionID := uuid.NewString()
	other := uuid.NewString()

	for i := 0; i < 3; i++ {
		ev := &Event{ExecutionID: executionID, Type: schema.EventStepStarted, StepName: "s", Payload: json.RawMessage(`{"i":1}`)}
		require.NoError(t, s.AppendEvent(ctx, ev))
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
	ev := &Event{ExecutionID: other, Type: schema.EventExecutionCreated}
	require.NoError(t, s.AppendEvent(ctx, ev))
	assert.Equal(t, int64(1), ev.Sequence, "sequences are per execution")

	events, err := s.ListEvents(ctx, executionID, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, int64(3), events[1].Sequence)
	assert.JSONEq(t, `{"i":1}`, string(events[0].Payload))
}

func testEventSequenceConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	executionID := uuid.NewString()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AppendEvent(ctx, &Event{ExecutionID: executionID, Type: schema.EventStepCompleted})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := s.ListEvents(ctx, executionID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
}

func testWithTxCommitHooks(t *testing.T, s Store) {
	ctx := context.Background()
	exec := &Execution{
		ID:          uuid.NewString(),
		ExecutionID: uuid.NewString(),
		WorkflowID:  uuid.NewString(),
		Status:      schema.ExecutionPending,
	}

	fired := false
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &Event{ExecutionID: exec.ExecutionID, Type: schema.EventExecutionCreated}); err != nil {
			return err
		}
		tx.AfterCommit(func() { fired = true })
		assert.False(t, fired, "hook must not run before commit")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, fired)

	got, err := s.GetExecution(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionPending, got.Status)

	events, err := s.ListEvents(ctx, exec.ExecutionID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func testWithTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	exec := &Execution{
		ID:          uuid.NewString(),
		ExecutionID: uuid.NewString(),
		WorkflowID:  uuid.NewString(),
		Status:      schema.ExecutionPending,
	}
	boom := errors.New("boom")

	fired := false
	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.CreateExecution(ctx, exec))
		tx.AfterCommit(func() { fired = true })
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, fired)

	_, err = s.GetExecution(ctx, exec.ExecutionID)
	assert.True(t, schema.IsNotFound(err))
}

func testScheduledJobs(t *testing.T, s Store) {
	ctx := context.Background()
	workflowID := uuid.NewString()
	next := time.Now().UTC().Add(time.Minute)
	job := &ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CronExpression: "*/5 * * * *",
		Params:         json.RawMessage(`{"query":"x"}`),
		ExecutedBy:     "scheduler",
		Enabled:        true,
		NextRunAt:      &next,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.JSONEq(t, `{"query":"x"}`, string(got.Params))
	require.NotNil(t, got.NextRunAt)

	disabled := false
	ran := time.Now().UTC()
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		Enabled:       &disabled,
		LastRunAt:     &ran,
		LastRunStatus: "success",
	}))

	enabled := true
	jobs, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled, WorkflowID: workflowID})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = s.ListScheduledJobs(ctx, ScheduledJobFilter{WorkflowID: workflowID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "success", jobs[0].LastRunStatus)

	require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	assert.True(t, schema.IsNotFound(err))
}
