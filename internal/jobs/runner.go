package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one job run and reports its per-item outcomes. A non-nil
// error with a nil Result means the run failed before any items could be
// attempted.
type RunFunc func(ctx context.Context) (*Result, error)

// Job pairs a registered name with its schedule and run function.
type Job struct {
	Name     string
	Schedule string
	Run      RunFunc
}

// Runner schedules jobs with cron expressions and bounds how many run at
// once. Each job keeps its own schedule entry; a slow job delays other jobs
// only when the concurrency limit is saturated.
type Runner struct {
	cron    *cron.Cron
	sem     chan struct{}
	timeout time.Duration
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunTimeout caps how long a single job run may take.
func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner that allows at most concurrency job runs in
// flight at once.
func NewRunner(concurrency int, opts ...RunnerOption) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	r := &Runner{
		cron:    cron.New(),
		sem:     make(chan struct{}, concurrency),
		timeout: time.Hour,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a job to the schedule. An unparseable cron expression is
// reported at registration, not at fire time.
func (r *Runner) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run function is required", job.Name)
	}
	_, err := r.cron.AddFunc(job.Schedule, func() {
		if err := r.Execute(context.Background(), job); err != nil {
			r.logger.Error("scheduled job failed",
				"job", job.Name,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("registering job %s with schedule %q: %w", job.Name, job.Schedule, err)
	}
	return nil
}

// Execute runs a job once, honoring the concurrency limit, and returns the
// aggregate error for the run. Callers triggering a job outside its schedule
// go through here too.
func (r *Runner) Execute(ctx context.Context, job Job) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("job %s: waiting for run slot: %w", job.Name, ctx.Err())
	}
	defer func() { <-r.sem }()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	r.logger.Info("job started", "job", job.Name)

	result, err := job.Run(runCtx)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if result == nil {
		result = &Result{}
	}

	r.logger.Info("job finished",
		"job", job.Name,
		"summary", result.Summary(),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	if err := result.Err(); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	return nil
}

// Start begins firing scheduled jobs.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop stops scheduling new runs and waits for in-flight runs to finish or
// the context to expire.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to finish: %w", ctx.Err())
	}
}
