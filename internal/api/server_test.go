package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepwise/internal/engine"
	"github.com/rendis/stepwise/internal/scheduler"
	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/internal/streaming"
	"github.com/rendis/stepwise/internal/tools"
	"github.com/rendis/stepwise/pkg/schema"
)

type countTool struct{}

func (countTool) Name() string { return "count" }

func (countTool) Schema() tools.Schema {
	return tools.Schema{
		Description: "Returns the requested count.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`),
	}
}

func (countTool) Execute(_ context.Context, params map[string]any) (any, error) {
	return map[string]any{"totalCount": params["n"]}, nil
}

type testEnv struct {
	srv *Server
	eng *engine.Engine
	hub *streaming.MemoryHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	reg := tools.NewRegistry(tools.NewValidator(), logger)
	require.NoError(t, reg.Register(countTool{}))

	hub := streaming.NewMemoryHub()
	promReg := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(promReg)
	require.NoError(t, err)

	eng, err := engine.New(st, reg, engine.Config{PoolSize: 2, RetryEnabled: false, EnforceTimeouts: true},
		engine.WithEventHub(hub), engine.WithMetrics(metrics), engine.WithLogger(logger))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Close(ctx)
		_ = st.Close()
	})

	sched := scheduler.NewScheduler(st, eng, time.Hour, logger)

	srv := NewServer(Deps{Engine: eng, Tools: reg, Hub: hub, Schedules: sched, Gatherer: promReg, Logger: logger})
	return &testEnv{srv: srv, eng: eng, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const searchWorkflow = `{
  "name": "count-and-check",
  "steps": [
    {"name": "count", "type": "TOOL", "orderIndex": 0, "toolName": "count", "parameters": {"n": 2}},
    {"name": "check", "type": "CONDITION", "orderIndex": 1, "condition": "resultCount >= 2"}
  ]
}`

func (e *testEnv) activeWorkflow(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/workflows", searchWorkflow)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	def := decode[schema.WorkflowDefinition](t, rec)
	assert.Equal(t, schema.DefinitionDraft, def.Status)

	rec = e.do(t, http.MethodPut, "/api/workflows/"+def.ID+"/status", `{"status":"ACTIVE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return def.ID
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["toolCount"])

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stepwise_executions_running")
}

func TestDefinitionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.activeWorkflow(t)

	rec := env.do(t, http.MethodGet, "/api/workflows?status=ACTIVE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]schema.WorkflowDefinition](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/workflows?status=DRAFT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/workflows?status=NOPE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	def := decode[schema.WorkflowDefinition](t, rec)
	assert.Len(t, def.Steps, 2)

	rec = env.do(t, http.MethodPost, "/api/workflows", `{"name":"","steps":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, schema.ErrCodeValidation, decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodDelete, "/api/workflows/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, schema.ErrCodeNotFound, decode[errorBody](t, rec).Code)
}

func TestExecuteAndInspect(t *testing.T) {
	env := newTestEnv(t)
	id := env.activeWorkflow(t)

	rec := env.do(t, http.MethodPost, "/api/workflows/"+id+"/execute", `{"parameters":{"n":5}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[map[string]any](t, rec)
	assert.Equal(t, "PENDING", started["status"])
	assert.EqualValues(t, 2, started["totalSteps"])
	execID := started["executionId"].(string)

	env.eng.Wait()

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/"+execID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[engine.ExecutionReport](t, rec)
	assert.Equal(t, schema.ExecutionCompleted, report.Status)
	assert.InDelta(t, 100.0, report.Progress, 0.001)
	assert.Equal(t, "unknown", report.ExecutedBy)

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/"+execID+"/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decode[[]store.StepExecution](t, rec)
	require.Len(t, steps, 2)
	assert.Equal(t, "condition result: true, resultCount=5", steps[1].OutputResult)

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id+"/executions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id+"/executions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/workflows/executions/"+execID+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	cancelled := decode[map[string]any](t, rec)
	assert.Equal(t, false, cancelled["cancelled"])
	assert.Contains(t, cancelled["message"], "not running")

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/"+execID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	stream := rec.Body.String()
	assert.Contains(t, stream, "event: execution_created\n")
	assert.Contains(t, stream, "event: condition_evaluated\n")
	assert.Contains(t, stream, "event: execution_completed\n")

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/"+execID+"/diagram", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "class step_0 completed")
	assert.Contains(t, rec.Body.String(), "class step_1 completed")

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id+"/diagram", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.NotContains(t, rec.Body.String(), "class step_0")

	rec = env.do(t, http.MethodGet, "/api/workflows/"+id+"/diagram?format=svg", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/workflows/missing/execute", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/workflows", searchWorkflow)
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[schema.WorkflowDefinition](t, rec)

	rec = env.do(t, http.MethodPost, "/api/workflows/"+draft.ID+"/execute", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, schema.ErrCodeInvalidState, decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodGet, "/api/workflows/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/workflows/executions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]schema.ToolInfo](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "count", list[0].Name)

	rec = env.do(t, http.MethodGet, "/api/tools/count", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tools/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/tools/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, status["toolCount"])
	assert.Equal(t, []any{"count"}, status["availableTools"])

	rec = env.do(t, http.MethodPost, "/api/tools/count/execute", `{"n": 4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[schema.ToolResult](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"totalCount": float64(4)}, res.Result)

	rec = env.do(t, http.MethodPost, "/api/tools/count/execute", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[schema.ToolResult](t, rec)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeValidation, res.Code)

	rec = env.do(t, http.MethodPost, "/api/tools/count/execute", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGlobalEventStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Headers are flushed only after the subscription exists.
	require.NoError(t, env.hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: "exec-1",
		EventType:   schema.EventExecutionStarted,
		Sequence:    2,
		Timestamp:   time.Now().UTC(),
	}))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	assert.Equal(t, "id: 2", lines[0])
	assert.Equal(t, "event: execution_started", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "data: {"))
	assert.Contains(t, lines[2], `"executionId":"exec-1"`)
}

func TestScheduleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	id := env.activeWorkflow(t)

	rec := env.do(t, http.MethodPost, "/api/schedules",
		`{"workflowId":"`+id+`","cronExpression":"*/10 * * * *","parameters":{"n":3}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[store.ScheduledJob](t, rec)
	assert.Equal(t, id, job.WorkflowID)
	assert.True(t, job.Enabled)
	assert.Equal(t, "scheduler", job.ExecutedBy)
	require.NotNil(t, job.NextRunAt)

	rec = env.do(t, http.MethodGet, "/api/schedules?workflowId="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]store.ScheduledJob](t, rec)
	require.Len(t, jobs, 1)

	rec = env.do(t, http.MethodPut, "/api/schedules/"+job.ID+"/enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/schedules/"+job.ID+"/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/schedules", `{"workflowId":"`+id+`","cronExpression":"whenever"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/schedules", `{"workflowId":"missing","cronExpression":"* * * * *"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodDelete, "/api/schedules/"+job.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.ScheduledJob](t, rec))
}
