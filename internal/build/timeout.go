package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/store"
)

// DefaultTimeout is how long a processing build may run before it is failed.
const DefaultTimeout = 45 * time.Minute

// DefaultTaskedTimeout is how long a tasked build may sit without updates.
// A task that never even started executing is a stronger failure signal, so
// the bound is much shorter than the processing timeout.
const DefaultTaskedTimeout = 5 * time.Minute

// TaskCanceller is the slice of the executor API the sweeper needs.
type TaskCanceller interface {
	CancelTask(ctx context.Context, buildID int64) error
}

// SweepOutcome records the cancellation result for one timed-out build.
type SweepOutcome struct {
	BuildID int64
	Err     error
}

// Sweeper force-fails builds stuck in processing or tasked states and
// cancels their underlying executor tasks.
type Sweeper struct {
	store         store.Store
	canceller     TaskCanceller
	timeout       time.Duration
	taskedTimeout time.Duration
	logger        *slog.Logger
}

// NewSweeper creates a timeout sweeper. Non-positive durations fall back to
// the defaults.
func NewSweeper(st store.Store, canceller TaskCanceller, timeout, taskedTimeout time.Duration, logger *slog.Logger) *Sweeper {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if taskedTimeout <= 0 {
		taskedTimeout = DefaultTaskedTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:         st,
		canceller:     canceller,
		timeout:       timeout,
		taskedTimeout: taskedTimeout,
		logger:        logger,
	}
}

// Sweep fails all builds past their timeout threshold as of now, then
// attempts to cancel each build's executor task.
//
// The bulk state update commits before any cancellation is attempted, so a
// crash mid-sweep leaves affected builds correctly marked at the cost of a
// possibly orphaned task, which a later sweep or the executor's own reaping
// picks up. Cancellation failures are collected per build, never thrown
// mid-loop.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) ([]SweepOutcome, error) {
	processingBefore := now.Add(-s.timeout)
	taskedBefore := now.Add(-s.taskedTimeout)

	ids, err := s.store.Builds().SweepTimedOut(ctx, now, processingBefore, taskedBefore)
	if err != nil {
		return nil, fmt.Errorf("sweeping timed-out builds: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	s.logger.Info("timed out builds",
		"count", len(ids),
		"timeout", s.timeout,
		"tasked_timeout", s.taskedTimeout,
	)

	outcomes := make([]SweepOutcome, 0, len(ids))
	for _, id := range ids {
		outcome := SweepOutcome{BuildID: id}
		if s.canceller != nil {
			if err := s.canceller.CancelTask(ctx, id); err != nil {
				s.logger.Error("failed to cancel executor task",
					"build_id", id,
					"error", err,
				)
				outcome.Err = err
			}
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}
