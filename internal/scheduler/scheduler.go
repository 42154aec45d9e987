package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/stepwise/internal/store"
	"github.com/rendis/stepwise/pkg/schema"
)

const (
	// DefaultInterval is how often due jobs are checked when no interval is configured.
	DefaultInterval = 60 * time.Second

	defaultInitiator = "scheduler"

	statusSuccess = "success"
	statusError   = "error"
)

// Starter starts executions of workflow definitions.
// Satisfied by *engine.Engine.
type Starter interface {
	Start(ctx context.Context, workflowID string, params map[string]any, executedBy string) (*store.Execution, error)
}

// Scheduler polls the store for due scheduled jobs and starts their definitions.
type Scheduler struct {
	store    store.ScheduleStore
	starter  Starter
	parser   cron.Parser
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently starting (dedup)
}

// NewScheduler creates a Scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(s store.ScheduleStore, starter Starter, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// AddJob validates the cron expression and persists an enabled job whose
// first run is the next cron occurrence.
func (s *Scheduler) AddJob(ctx context.Context, workflowID, cronExpr string, params map[string]any, executedBy string) (*store.ScheduledJob, error) {
	if workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	now := time.Now().UTC()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if executedBy == "" {
		executedBy = defaultInitiator
	}

	job := &store.ScheduledJob{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		ExecutedBy:     executedBy,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid params: %v", err)
		}
		job.Params = raw
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create scheduled job: %w", err)
	}
	s.logger.InfoContext(ctx, "scheduled job added",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", workflowID),
		slog.String("cron", cronExpr),
	)
	return job, nil
}

// ListJobs returns the persisted jobs, optionally only those of one definition.
func (s *Scheduler) ListJobs(ctx context.Context, workflowID string) ([]*store.ScheduledJob, error) {
	return s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{WorkflowID: workflowID})
}

// SetEnabled pauses or resumes a job.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.UpdateScheduledJob(ctx, id, store.ScheduledJobUpdate{Enabled: &enabled})
}

// RemoveJob deletes a job.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	return s.store.DeleteScheduledJob(ctx, id)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every enabled job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob starts the job's definition and records the outcome on the job.
// The job only records whether the start succeeded; the execution itself
// is tracked by the engine.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
	)

	var params map[string]any
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			s.logger.Error("scheduled job has invalid params",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return s.updateJobStatus(ctx, job, now, statusError)
		}
	}

	executedBy := job.ExecutedBy
	if executedBy == "" {
		executedBy = defaultInitiator
	}

	status := statusSuccess
	exec, err := s.starter.Start(ctx, job.WorkflowID, params, executedBy)
	if err != nil {
		status = statusError
		s.logger.Error("scheduled job start failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled job started execution",
			slog.String("job_id", job.ID),
			slog.String("execution_id", exec.ExecutionID),
		)
	}

	return s.updateJobStatus(ctx, job, now, status)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for the current tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed starts, once, every enabled job whose next run passed while
// the process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) (int, error) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return 0, fmt.Errorf("list missed jobs: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.runJob(ctx, job, now)
		s.releaseJob(job.ID)
		if err != nil {
			s.logger.Error("failed to recover missed job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return recovered, nil
}
