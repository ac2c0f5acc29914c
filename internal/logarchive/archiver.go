package logarchive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// Archiver moves a completed build's log rows into object storage.
type Archiver struct {
	store   store.Store
	objects ObjectStore
	logger  *slog.Logger
}

// NewArchiver creates a new log archiver.
func NewArchiver(st store.Store, objects ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:   st,
		objects: objects,
		logger:  logger,
	}
}

// Key returns the object storage key for a build's archived logs.
func Key(buildID int64) string {
	return fmt.Sprintf("buildlogs/%d.log", buildID)
}

// ArchiveBuild concatenates and stores a build's log rows, records the
// archive key on the build, and deletes the rows. A build with no rows still
// gets an (empty) archive so the key's presence uniformly signals that
// archival completed.
func (a *Archiver) ArchiveBuild(ctx context.Context, b *models.Build) error {
	if b.LogsS3Key != "" {
		return nil
	}

	entries, err := a.store.BuildLogs().ListForBuild(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("loading logs for build %d: %w", b.ID, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry.Output)
		sb.WriteByte('\n')
	}

	key := Key(b.ID)
	if err := a.objects.Put(ctx, key, []byte(sb.String()), "text/plain"); err != nil {
		return fmt.Errorf("archiving logs for build %d: %w", b.ID, err)
	}

	if err := a.store.Builds().SetLogsKey(ctx, b.ID, key); err != nil {
		return fmt.Errorf("recording archive key for build %d: %w", b.ID, err)
	}

	deleted, err := a.store.BuildLogs().DeleteForBuild(ctx, b.ID)
	if err != nil {
		// The archive exists and the key is recorded; leftover rows are
		// retried harmlessly on the next pass.
		a.logger.Error("failed to delete archived log rows",
			"build_id", b.ID,
			"error", err,
		)
		return nil
	}

	a.logger.Info("archived build logs",
		"build_id", b.ID,
		"key", key,
		"lines", deleted,
	)
	return nil
}

// FetchArchived reads a byte range of a build's archived logs.
func (a *Archiver) FetchArchived(ctx context.Context, b *models.Build, offset, length int64) ([]byte, error) {
	if b.LogsS3Key == "" {
		return nil, fmt.Errorf("build %d logs are not archived", b.ID)
	}

	rc, err := a.objects.Get(ctx, b.LogsS3Key, offset, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading archived logs for build %d: %w", b.ID, err)
	}
	return data, nil
}
