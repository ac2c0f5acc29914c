package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloud-gov/pages-core/internal/logarchive"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// ArchiveBuildLogs moves completed builds' log rows to object storage. The
// daily run covers the window ending at midnight UTC today, so each build's
// logs are archived the day after it finishes.
type ArchiveBuildLogs struct {
	store       store.Store
	archiver    *logarchive.Archiver
	window      time.Duration
	concurrency int
	now         func() time.Time
}

// NewArchiveBuildLogs creates the log archival job.
func NewArchiveBuildLogs(st store.Store, archiver *logarchive.Archiver, window time.Duration, concurrency int) *ArchiveBuildLogs {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &ArchiveBuildLogs{
		store:       st,
		archiver:    archiver,
		window:      window,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run archives every unarchived build completed in the most recent window.
func (j *ArchiveBuildLogs) Run(ctx context.Context) (*Result, error) {
	end := j.now().UTC().Truncate(24 * time.Hour)
	return j.runRange(ctx, end.Add(-j.window), end)
}

// RunForDate archives unarchived builds completed on the given calendar day
// (UTC). Used to backfill a day the scheduled run missed.
func (j *ArchiveBuildLogs) RunForDate(ctx context.Context, date time.Time) (*Result, error) {
	start := date.UTC().Truncate(24 * time.Hour)
	return j.runRange(ctx, start, start.Add(24*time.Hour))
}

func (j *ArchiveBuildLogs) runRange(ctx context.Context, start, end time.Time) (*Result, error) {
	builds, err := j.store.Builds().ListArchivable(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("listing archivable builds: %w", err)
	}

	result := settle(ctx, builds, j.concurrency,
		func(b *models.Build) string { return strconv.FormatInt(b.ID, 10) },
		func(ctx context.Context, b *models.Build) error {
			return j.archiver.ArchiveBuild(ctx, b)
		})
	return result, nil
}
