package build

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/events"
	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/internal/store/postgres"
)

// ParseErrorMessage replaces status messages that fail base64 decoding.
const ParseErrorMessage = "build status message parsing error"

// commitStatusContext is the context string reported to the code host.
const commitStatusContext = "federalist/build"

// StatusPayload is the body of an executor status callback.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"` // base64-encoded
}

// CommitStatusReporter is the slice of the code host API used for
// best-effort commit status updates.
type CommitStatusReporter interface {
	CreateCommitStatus(ctx context.Context, token, owner, repo, sha string, status *github.CommitStatus) error
}

// StatusService applies executor status callbacks to the build state machine.
type StatusService struct {
	store    store.Store
	broker   *events.Broker
	reporter CommitStatusReporter
	// reporterToken authenticates commit status reports upstream.
	reporterToken string
	logger        *slog.Logger
}

// NewStatusService creates a new status service. broker and reporter may be
// nil, disabling the corresponding side effect.
func NewStatusService(st store.Store, broker *events.Broker, reporter CommitStatusReporter, reporterToken string, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		store:         st,
		broker:        broker,
		reporter:      reporter,
		reporterToken: reporterToken,
		logger:        logger,
	}
}

// HandleCallback authenticates and applies one status callback.
//
// Possession of the build token is the only authorization; no user identity
// is required. A message that fails base64 decoding forces the status to
// error with a fixed fallback message so a malformed report still terminates
// the build. The state update persists before any side effect runs, and side
// effect failures never fail the callback.
func (s *StatusService) HandleCallback(ctx context.Context, buildID int64, token string, payload StatusPayload) error {
	b, err := s.store.Builds().Get(ctx, buildID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrBuildNotFound
		}
		return fmt.Errorf("looking up build %d: %w", buildID, err)
	}

	if subtle.ConstantTimeCompare([]byte(b.Token), []byte(token)) != 1 {
		return ErrForbidden
	}

	status := payload.Status
	message := ""
	if decoded, decodeErr := base64.StdEncoding.DecodeString(payload.Message); decodeErr == nil {
		message = string(decoded)
	} else {
		message = ParseErrorMessage
		status = string(models.BuildStateError)
	}

	state, err := stateForStatus(status)
	if err != nil {
		return err
	}

	if b.State.Terminal() {
		// The executor may re-send a final status; the build's state is
		// monotonic so the event is acknowledged and ignored.
		s.logger.Debug("ignoring status callback for terminal build",
			"build_id", b.ID,
			"state", b.State,
			"status", status,
		)
		return nil
	}

	previous := b.State
	change := models.StateChange{To: state}
	if state == models.BuildStateError {
		change.Message = message
	}
	if err := b.Apply(change, time.Now().UTC()); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			s.logger.Warn("ignoring out-of-order status callback",
				"build_id", b.ID,
				"state", previous,
				"status", status,
			)
			return nil
		}
		return err
	}

	applied, err := s.store.Builds().UpdateStateGuarded(ctx, b, []models.BuildState{previous})
	if err != nil {
		return fmt.Errorf("persisting build %d state: %w", b.ID, err)
	}
	if !applied {
		// A concurrent writer (another callback or the timeout sweeper)
		// won the race; that update stands.
		s.logger.Debug("lost status update race", "build_id", b.ID)
		return nil
	}

	s.emitBuildStatus(b)
	s.reportCommitStatus(ctx, b)

	return nil
}

// emitBuildStatus publishes the build to live subscribers. Best effort.
func (s *StatusService) emitBuildStatus(b *models.Build) {
	if s.broker == nil {
		return
	}
	s.broker.Emit(events.SiteRoom(b.SiteID), events.BuildStatusEvent, b)
	if b.UserID != 0 {
		s.broker.Emit(events.SiteUserRoom(b.SiteID, b.UserID), events.BuildStatusEvent, b)
	}
}

// reportCommitStatus reports the build outcome to the code host. Best effort.
func (s *StatusService) reportCommitStatus(ctx context.Context, b *models.Build) {
	if s.reporter == nil {
		return
	}

	sha := b.ClonedCommitSha
	if sha == "" {
		sha = b.RequestedCommitSha
	}
	if sha == "" {
		return
	}

	var commitState string
	switch b.State {
	case models.BuildStateProcessing:
		commitState = "pending"
	case models.BuildStateSuccess:
		commitState = "success"
	case models.BuildStateError:
		commitState = "error"
	default:
		return
	}

	site, err := s.store.Sites().Get(ctx, b.SiteID)
	if err != nil {
		s.logger.Error("failed to load site for commit status",
			"build_id", b.ID,
			"site_id", b.SiteID,
			"error", err,
		)
		return
	}

	status := &github.CommitStatus{
		State:   commitState,
		Context: commitStatusContext,
	}
	if err := s.reporter.CreateCommitStatus(ctx, s.reporterToken, site.Owner, site.Repository, sha, status); err != nil {
		s.logger.Error("failed to report commit status",
			"build_id", b.ID,
			"sha", sha,
			"error", err,
		)
	}
}

// stateForStatus maps a callback status string onto a build state.
func stateForStatus(status string) (models.BuildState, error) {
	state := models.BuildState(status)
	switch state {
	case models.BuildStateTasked, models.BuildStateProcessing,
		models.BuildStateSuccess, models.BuildStateError, models.BuildStateSkipped:
		return state, nil
	}
	return "", fmt.Errorf("unknown build status %q", status)
}
