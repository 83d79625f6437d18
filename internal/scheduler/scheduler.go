package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/weft-run/weft/pkg/schema"
)

const tickInterval = time.Minute

// Runner starts one workflow run on behalf of a job. Satisfied by the
// host wiring engine and catalog together; an interface keeps the
// scheduler free of an engine import.
type Runner interface {
	RunScheduled(ctx context.Context, workflow string, version int, input map[string]any) error
}

// Job is one recurring workflow trigger. CronExpr uses the standard
// five-field form; Version zero runs the latest cataloged version.
type Job struct {
	ID         string         `json:"id"`
	Workflow   string         `json:"workflow"`
	Version    int            `json:"version,omitempty"`
	CronExpr   string         `json:"cronExpr"`
	Input      map[string]any `json:"input,omitempty"`
	Enabled    bool           `json:"enabled"`
	NextRun    time.Time      `json:"nextRun"`
	LastRun    *time.Time     `json:"lastRun,omitempty"`
	LastStatus string         `json:"lastStatus,omitempty"`
}

// Scheduler ticks once a minute and hands due jobs to a bounded worker
// pool. Overdue jobs run on the next tick, so a stalled stretch recovers
// by itself; the in-flight set keeps long runs from overlapping
// themselves. A stopped scheduler cannot be restarted.
type Scheduler struct {
	runner Runner
	parser cron.Parser
	pool   *WorkerPool
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a scheduler running at most workers jobs concurrently.
func New(runner Runner, workers int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		pool:     NewWorkerPool(workers),
		logger:   logger,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// Add validates and registers a job, enables it, and computes its first
// run time. A missing ID gets a generated one.
func (s *Scheduler) Add(job Job) (*Job, error) {
	if job.Workflow == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "job workflow name is required")
	}
	next, err := s.NextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Enabled = true
	job.NextRun = next
	job.LastRun = nil
	job.LastStatus = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "job %q already exists", job.ID)
	}
	stored := job
	s.jobs[job.ID] = &stored
	snapshot := stored
	return &snapshot, nil
}

// Remove deletes a job. A run already in flight finishes.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Enable toggles a job. Re-enabling recomputes the next run, so a long
// disabled stretch is not replayed.
func (s *Scheduler) Enable(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	if enabled && !job.Enabled {
		next, err := s.NextRun(job.CronExpr, time.Now().UTC())
		if err != nil {
			return err
		}
		job.NextRun = next
	}
	job.Enabled = enabled
	return nil
}

// Get returns a snapshot of one job.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	snapshot := *job
	return &snapshot, nil
}

// Jobs returns snapshots of every job, sorted by id.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metrics reports worker pool activity.
func (s *Scheduler) Metrics() PoolMetrics {
	return s.pool.Metrics()
}

// Start launches the tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.stopped {
		s.runMu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler is stopped")
	}
	if s.done != nil {
		s.runMu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.runMu.Unlock()

	go s.loop(runCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop ends the tick loop and drains in-flight runs.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.stopped = true
	s.pool.Shutdown()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
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

// tick submits every due job to the pool. Submit blocks at capacity, so
// the tick inherits the pool's backpressure.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, job := range s.due(now) {
		if !s.tryAcquire(job.ID) {
			continue
		}
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			defer s.release(job.ID)
			return s.runJob(ctx, job, now)
		})
		if err != nil {
			s.release(job.ID)
			s.logger.Error("scheduled job not submitted", "job_id", job.ID, "error", err)
		}
	}
}

func (s *Scheduler) due(now time.Time) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRun.After(now) {
			snapshot := *job
			due = append(due, &snapshot)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// runJob executes one job and stamps its run bookkeeping.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job", "job_id", job.ID, "workflow", job.Workflow)

	err := s.runner.RunScheduled(ctx, job.Workflow, job.Version, job.Input)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled job failed", "job_id", job.ID, "error", err)
	}
	s.stamp(job.ID, now, status)
	return err
}

// stamp records a run outcome; the job may have been removed mid-run.
func (s *Scheduler) stamp(id string, ranAt time.Time, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.LastRun = &ranAt
	job.LastStatus = status
	if next, err := s.NextRun(job.CronExpr, ranAt); err == nil {
		job.NextRun = next
	}
}

// NextRun parses a cron expression and computes the next fire time.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	spec, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"cron expression %q is not valid", cronExpr).WithCause(err)
	}
	return spec.Next(from), nil
}

// tryAcquire marks a job in flight; false if it is already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
