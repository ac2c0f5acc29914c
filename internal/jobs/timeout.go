package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloud-gov/pages-core/internal/build"
)

// TimeoutBuilds marks builds stuck past the timeout thresholds as errored
// and cancels their executor tasks.
type TimeoutBuilds struct {
	sweeper *build.Sweeper
	now     func() time.Time
}

// NewTimeoutBuilds creates the timeout sweep job.
func NewTimeoutBuilds(sweeper *build.Sweeper) *TimeoutBuilds {
	return &TimeoutBuilds{
		sweeper: sweeper,
		now:     time.Now,
	}
}

// Run sweeps timed-out builds. Each swept build is one item: a success when
// its task cancellation went through, a failure with the reason otherwise.
// The database marking itself is all-or-nothing, so a sweep error fails the
// whole run.
func (j *TimeoutBuilds) Run(ctx context.Context) (*Result, error) {
	outcomes, err := j.sweeper.Sweep(ctx, j.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("sweeping timed-out builds: %w", err)
	}

	result := &Result{}
	for _, o := range outcomes {
		result.Add(strconv.FormatInt(o.BuildID, 10), o.Err)
	}
	return result, nil
}
