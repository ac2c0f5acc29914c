package build

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/integrations/executor"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// TaskStarter is the slice of the executor API the enqueuer needs.
type TaskStarter interface {
	StartTask(ctx context.Context, task *executor.Task) error
}

// Enqueuer moves created builds into the queued state and hands them to the
// external executor.
type Enqueuer struct {
	store       store.Store
	executor    TaskStarter
	callbackURL string
	logger      *slog.Logger
}

// NewEnqueuer creates a new enqueuer. callbackURL is the externally
// reachable base URL the executor posts status updates to.
func NewEnqueuer(st store.Store, exec TaskStarter, callbackURL string, logger *slog.Logger) *Enqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enqueuer{
		store:       st,
		executor:    exec,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// Enqueue validates and queues a created build.
//
// A build whose branch fails validation short-circuits to the invalid state
// with a single log line recording the validation error in place of
// execution logs; the validation error is returned to the caller.
func (e *Enqueuer) Enqueue(ctx context.Context, site *models.Site, b *models.Build) error {
	now := time.Now().UTC()

	if err := models.ValidateBranch(b.Branch); err != nil {
		if applyErr := b.Apply(models.StateChange{
			To:      models.BuildStateInvalid,
			Message: err.Error(),
		}, now); applyErr != nil {
			return fmt.Errorf("invalidating build %d: %w", b.ID, applyErr)
		}

		applied, updateErr := e.store.Builds().UpdateStateGuarded(ctx, b, []models.BuildState{models.BuildStateCreated})
		if updateErr != nil {
			return fmt.Errorf("persisting invalid build %d: %w", b.ID, updateErr)
		}
		if applied {
			logEntry := &models.BuildLog{
				BuildID: b.ID,
				Source:  models.BuildLogSourceAll,
				Output:  fmt.Sprintf("Build canceled: %s", err.Error()),
			}
			if logErr := e.store.BuildLogs().Append(ctx, logEntry); logErr != nil {
				e.logger.Error("failed to record validation log line",
					"build_id", b.ID,
					"error", logErr,
				)
			}
		}

		return err
	}

	if err := b.Apply(models.StateChange{To: models.BuildStateQueued}, now); err != nil {
		return fmt.Errorf("queueing build %d: %w", b.ID, err)
	}

	applied, err := e.store.Builds().UpdateStateGuarded(ctx, b, []models.BuildState{models.BuildStateCreated})
	if err != nil {
		return fmt.Errorf("persisting queued build %d: %w", b.ID, err)
	}
	if !applied {
		// A concurrent enqueue already moved this build on.
		e.logger.Debug("build already queued", "build_id", b.ID)
		return nil
	}

	task := &executor.Task{
		BuildID:  b.ID,
		Token:    b.Token,
		Owner:    site.Owner,
		Repo:     site.Repository,
		Branch:   b.Branch,
		Sha:      b.RequestedCommitSha,
		Callback: fmt.Sprintf("%s/v1/build/%d/status/%s", e.callbackURL, b.ID, b.Token),
	}
	if err := e.executor.StartTask(ctx, task); err != nil {
		return fmt.Errorf("submitting build %d to executor: %w", b.ID, err)
	}

	e.logger.Info("build queued",
		"build_id", b.ID,
		"site_id", b.SiteID,
		"branch", b.Branch,
	)
	return nil
}
