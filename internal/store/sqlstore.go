package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rendis/stepwise/pkg/schema"
)

// querier is the subset of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// numbered rewrites ? placeholders to $1, $2, ...
	numbered bool
	// eventLock, when set, runs inside the append transaction before the
	// next event sequence is read. Its single argument is the execution id.
	eventLock string
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlOps implements the entity stores on top of a querier. The same code
// serves the base store (q is *sql.DB) and transactions (q is *sql.Tx).
type sqlOps struct {
	q querier
	d dialect
	// begin opens a transaction for multi-statement writes. Nil inside a transaction.
	begin func(ctx context.Context) (*sql.Tx, error)
}

func (o *sqlOps) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return o.q.ExecContext(ctx, o.d.rebind(query), args...)
}

func (o *sqlOps) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return o.q.QueryContext(ctx, o.d.rebind(query), args...)
}

func (o *sqlOps) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return o.q.QueryRowContext(ctx, o.d.rebind(query), args...)
}

// atomic runs fn in its own transaction unless o already is one.
func (o *sqlOps) atomic(ctx context.Context, fn func(ops *sqlOps) error) error {
	if o.begin == nil {
		return fn(o)
	}
	tx, err := o.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&sqlOps{q: tx, d: o.d}); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlStore is the database/sql backed Store shared by the libSQL and Postgres drivers.
type sqlStore struct {
	sqlOps
	db         *sql.DB
	migrations []migration
}

func newSQLStore(db *sql.DB, d dialect, migrations []migration) *sqlStore {
	s := &sqlStore{db: db, migrations: migrations}
	s.sqlOps = sqlOps{
		q: db,
		d: d,
		begin: func(ctx context.Context) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
	}
	return s
}

// DB returns the underlying *sql.DB.
func (s *sqlStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *sqlStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *sqlStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, s.d, s.migrations)
}

// WithTx runs fn in a transaction and fires the registered after-commit
// hooks once the commit has succeeded.
func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "begin tx: %v", err).WithCause(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &txStore{sqlOps: sqlOps{q: sqlTx, d: s.d}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit tx: %v", err).WithCause(err)
	}
	committed = true
	tx.runHooks()
	return nil
}

// txStore is the Tx handed to WithTx callbacks.
type txStore struct {
	sqlOps
	mu    sync.Mutex
	hooks []func()
}

func (t *txStore) AfterCommit(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

func (t *txStore) runHooks() {
	t.mu.Lock()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// --- Definitions ---

const definitionColumns = `id, name, description, version, status, parameters, config, created_by, created_at, updated_at`

const stepColumns = `name, description, step_type, order_index, tool_name, parameters, config, condition_expr, max_retries, retry_delay_ms, timeout_ms`

func (o *sqlOps) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	params, err := marshalMapOrDefault(def.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	cfg, err := marshalMapOrDefault(def.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	def.CreatedAt = timeOrNow(def.CreatedAt)
	def.UpdatedAt = timeOrNow(def.UpdatedAt)
	if def.Status == "" {
		def.Status = schema.DefinitionDraft
	}

	return o.atomic(ctx, func(ops *sqlOps) error {
		if _, err := ops.exec(ctx,
			`INSERT INTO definitions (`+definitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.ID, def.Name, nullStr(def.Description), def.Version, string(def.Status),
			string(params), string(cfg), nullStr(def.CreatedBy), def.CreatedAt, def.UpdatedAt,
		); err != nil {
			return err
		}
		for _, st := range def.Steps {
			if err := ops.insertStep(ctx, def.ID, st); err != nil {
				return fmt.Errorf("insert step %q: %w", st.Name, err)
			}
		}
		return nil
	})
}

func (o *sqlOps) insertStep(ctx context.Context, definitionID string, st schema.StepDefinition) error {
	params, err := marshalMapOrDefault(st.Parameters)
	if err != nil {
		return err
	}
	cfg, err := marshalMapOrDefault(st.Config)
	if err != nil {
		return err
	}
	_, err = o.exec(ctx,
		`INSERT INTO definition_steps (definition_id, `+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		definitionID, st.Name, nullStr(st.Description), string(st.Type), st.OrderIndex,
		nullStr(st.ToolName), string(params), string(cfg), nullStr(st.Condition),
		nullInt(st.MaxRetries), nullInt64(st.RetryDelayMs), nullInt64(st.TimeoutMs),
	)
	return err
}

func (o *sqlOps) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	def, err := scanDefinition(o.queryRow(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, err
	}
	if def.Steps, err = o.loadSteps(ctx, def.ID); err != nil {
		return nil, err
	}
	return def, nil
}

func (o *sqlOps) GetDefinitionByName(ctx context.Context, name string) (*schema.WorkflowDefinition, error) {
	def, err := scanDefinition(o.queryRow(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE name = ? ORDER BY created_at LIMIT 1`, name))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", name)
	}
	if err != nil {
		return nil, err
	}
	if def.Steps, err = o.loadSteps(ctx, def.ID); err != nil {
		return nil, err
	}
	return def, nil
}

func (o *sqlOps) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT ` + definitionColumns + ` FROM definitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, name"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Steps are loaded after the cursor is closed; single-connection
	// databases cannot interleave two open result sets.
	for _, def := range defs {
		if def.Steps, err = o.loadSteps(ctx, def.ID); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (o *sqlOps) UpdateDefinitionStatus(ctx context.Context, id string, status schema.DefinitionStatus) error {
	res, err := o.exec(ctx,
		`UPDATE definitions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

func (o *sqlOps) DeleteDefinition(ctx context.Context, id string) error {
	return o.atomic(ctx, func(ops *sqlOps) error {
		if _, err := ops.exec(ctx, `DELETE FROM definition_steps WHERE definition_id = ?`, id); err != nil {
			return err
		}
		res, err := ops.exec(ctx, `DELETE FROM definitions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res, "workflow definition", id)
	})
}

func (o *sqlOps) loadSteps(ctx context.Context, definitionID string) ([]schema.StepDefinition, error) {
	rows, err := o.query(ctx,
		`SELECT `+stepColumns+` FROM definition_steps WHERE definition_id = ? ORDER BY order_index`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := make([]schema.StepDefinition, 0)
	for rows.Next() {
		var (
			st                          schema.StepDefinition
			desc, tool, cond            sql.NullString
			stepType, paramsJSON, cfgJS string
			maxRetries                  sql.NullInt64
			retryDelay, timeout         sql.NullInt64
		)
		if err := rows.Scan(&st.Name, &desc, &stepType, &st.OrderIndex, &tool, &paramsJSON, &cfgJS,
			&cond, &maxRetries, &retryDelay, &timeout); err != nil {
			return nil, err
		}
		st.Description = desc.String
		st.Type = schema.StepType(stepType)
		st.ToolName = tool.String
		st.Condition = cond.String
		st.Parameters = unmarshalMap(paramsJSON)
		st.Config = unmarshalMap(cfgJS)
		if maxRetries.Valid {
			n := int(maxRetries.Int64)
			st.MaxRetries = &n
		}
		if retryDelay.Valid {
			n := retryDelay.Int64
			st.RetryDelayMs = &n
		}
		if timeout.Valid {
			n := timeout.Int64
			st.TimeoutMs = &n
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func scanDefinition(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		desc, createdBy      sql.NullString
		status               string
		paramsJSON, cfgJSON  string
	)
	if err := row.Scan(&def.ID, &def.Name, &desc, &def.Version, &status, &paramsJSON, &cfgJSON,
		&createdBy, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.Description = desc.String
	def.CreatedBy = createdBy.String
	def.Status = schema.DefinitionStatus(status)
	def.Parameters = unmarshalMap(paramsJSON)
	def.Config = unmarshalMap(cfgJSON)
	return def, nil
}

// --- Executions ---

const executionColumns = `id, execution_id, workflow_id, status, parameters, result, error_message, current_step_index, completed_steps, total_steps, started_at, completed_at, duration_ms, executed_by, environment, tags, priority, retry_count, max_retries, updated_at`

func (o *sqlOps) CreateExecution(ctx context.Context, exec *Execution) error {
	tags, err := json.Marshal(exec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	exec.StartedAt = timeOrNow(exec.StartedAt)
	exec.UpdatedAt = timeOrNow(exec.UpdatedAt)
	_, err = o.exec(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ExecutionID, exec.WorkflowID, string(exec.Status), exec.Parameters,
		nullStr(exec.Result), nullStr(exec.ErrorMessage), exec.CurrentStepIndex, exec.CompletedSteps,
		exec.TotalSteps, exec.StartedAt, nullTime(exec.CompletedAt), nullInt64(exec.DurationMs),
		nullStr(exec.ExecutedBy), nullStr(exec.Environment), string(tags), exec.Priority,
		exec.RetryCount, exec.MaxRetries, exec.UpdatedAt,
	)
	return err
}

func (o *sqlOps) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	exec, err := scanExecution(o.queryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", executionID)
	}
	return exec, err
}

func (o *sqlOps) UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	sets, args := executionSets(update)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, executionID)
	res, err := o.exec(ctx,
		`UPDATE executions SET `+strings.Join(sets, ", ")+` WHERE execution_id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", executionID)
}

func (o *sqlOps) TransitionExecution(ctx context.Context, executionID string, from schema.ExecutionStatus, update ExecutionUpdate) (bool, error) {
	sets, args := executionSets(update)
	if len(sets) == 0 {
		return false, nil
	}
	args = append(args, executionID, string(from))
	res, err := o.exec(ctx,
		`UPDATE executions SET `+strings.Join(sets, ", ")+` WHERE execution_id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = o.queryRow(ctx, `SELECT 1 FROM executions WHERE execution_id = ?`, executionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, storeNotFound("execution", executionID)
	}
	return false, err
}

func (o *sqlOps) RenewExecution(ctx context.Context, executionID string) (bool, error) {
	res, err := o.exec(ctx,
		`UPDATE executions SET updated_at = ? WHERE execution_id = ? AND status = ?`,
		time.Now().UTC(), executionID, string(schema.ExecutionRunning))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func executionSets(update ExecutionUpdate) ([]string, []any) {
	var sets []string
	var args []any
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *update.Result)
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.CurrentStepIndex != nil {
		sets = append(sets, "current_step_index = ?")
		args = append(args, *update.CurrentStepIndex)
	}
	if update.CompletedSteps != nil {
		sets = append(sets, "completed_steps = ?")
		args = append(args, *update.CompletedSteps)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if update.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *update.RetryCount)
	}
	if len(sets) == 0 {
		return nil, nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	return sets, args
}

func (o *sqlOps) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	e := &Execution{}
	var (
		status                            string
		result, errMsg, by, env, tagsJSON sql.NullString
		completedAt                       sql.NullTime
		duration                          sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.ExecutionID, &e.WorkflowID, &status, &e.Parameters, &result, &errMsg,
		&e.CurrentStepIndex, &e.CompletedSteps, &e.TotalSteps, &e.StartedAt, &completedAt, &duration,
		&by, &env, &tagsJSON, &e.Priority, &e.RetryCount, &e.MaxRetries, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = schema.ExecutionStatus(status)
	e.Result = result.String
	e.ErrorMessage = errMsg.String
	e.ExecutedBy = by.String
	e.Environment = env.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &e.Tags)
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		e.DurationMs = &d
	}
	return e, nil
}

// --- Step executions ---

const stepExecutionColumns = `id, execution_id, step_name, step_type, status, order_index, tool_name, input_parameters, output_result, error_message, execution_log, retry_count, started_at, completed_at, duration_ms`

func (o *sqlOps) CreateStepExecution(ctx context.Context, step *StepExecution) error {
	_, err := o.exec(ctx,
		`INSERT INTO step_executions (`+stepExecutionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.ExecutionID, step.StepName, string(step.StepType), string(step.Status), step.OrderIndex,
		nullStr(step.ToolName), nullStr(step.InputParameters), nullStr(step.OutputResult),
		nullStr(step.ErrorMessage), nullStr(step.ExecutionLog), step.RetryCount,
		nullTime(step.StartedAt), nullTime(step.CompletedAt), nullInt64(step.DurationMs),
	)
	return err
}

func (o *sqlOps) UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error {
	var sets []string
	var args []any
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.InputParameters != nil {
		sets = append(sets, "input_parameters = ?")
		args = append(args, *update.InputParameters)
	}
	if update.OutputResult != nil {
		sets = append(sets, "output_result = ?")
		args = append(args, *update.OutputResult)
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.ExecutionLog != nil {
		sets = append(sets, "execution_log = ?")
		args = append(args, *update.ExecutionLog)
	}
	if update.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *update.RetryCount)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := o.exec(ctx, `UPDATE step_executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step execution", id)
}

func (o *sqlOps) ListStepExecutions(ctx context.Context, executionID string, status *schema.StepStatus) ([]*StepExecution, error) {
	query := `SELECT ` + stepExecutionColumns + ` FROM step_executions WHERE execution_id = ?`
	args := []any{executionID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY order_index, started_at"

	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*StepExecution
	for rows.Next() {
		s := &StepExecution{}
		var (
			stepType, st                       string
			tool, input, output, errMsg, logTx sql.NullString
			startedAt, completedAt             sql.NullTime
			duration                           sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.ExecutionID, &s.StepName, &stepType, &st, &s.OrderIndex, &tool,
			&input, &output, &errMsg, &logTx, &s.RetryCount, &startedAt, &completedAt, &duration); err != nil {
			return nil, err
		}
		s.StepType = schema.StepType(stepType)
		s.Status = schema.StepStatus(st)
		s.ToolName = tool.String
		s.InputParameters = input.String
		s.OutputResult = output.String
		s.ErrorMessage = errMsg.String
		s.ExecutionLog = logTx.String
		if startedAt.Valid {
			t := startedAt.Time
			s.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			s.CompletedAt = &t
		}
		if duration.Valid {
			d := duration.Int64
			s.DurationMs = &d
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-execution sequence.
func (o *sqlOps) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return o.atomic(ctx, func(ops *sqlOps) error {
		if ops.d.eventLock != "" {
			if _, err := ops.exec(ctx, ops.d.eventLock, event.ExecutionID); err != nil {
				return fmt.Errorf("acquire event lock: %w", err)
			}
		}
		var seq int64
		if err := ops.queryRow(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("get next sequence: %w", err)
		}
		if _, err := ops.exec(ctx,
			`INSERT INTO events (execution_id, step_name, event_type, payload, created_at, sequence) VALUES (?, ?, ?, ?, ?, ?)`,
			event.ExecutionID, nullStr(event.StepName), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		event.Sequence = seq
		return nil
	})
}

// ListEvents returns events of an execution with sequence > since, ordered by sequence.
func (o *sqlOps) ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := o.query(ctx,
		`SELECT id, execution_id, step_name, event_type, payload, created_at, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence`, executionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var step, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &step, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepName = step.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled jobs ---

const jobColumns = `id, workflow_id, cron_expression, params, executed_by, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (o *sqlOps) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	job.CreatedAt = timeOrNow(job.CreatedAt)
	_, err := o.exec(ctx,
		`INSERT INTO scheduled_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowID, job.CronExpression, nullRaw(job.Params), job.ExecutedBy, job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), job.CreatedAt,
	)
	return err
}

func (o *sqlOps) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job, err := scanJob(o.queryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (o *sqlOps) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := o.exec(ctx, `UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (o *sqlOps) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (o *sqlOps) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := o.exec(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	j := &ScheduledJob{}
	var (
		params, lastStatus sql.NullString
		lastRun, nextRun   sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.WorkflowID, &j.CronExpression, &params, &j.ExecutedBy, &j.Enabled,
		&lastRun, &nextRun, &lastStatus, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Params = rawOrNil(params)
	j.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		t := lastRun.Time
		j.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		j.NextRunAt = &t
	}
	return j, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return int64(*n)
}

func nullInt64(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalMap(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
