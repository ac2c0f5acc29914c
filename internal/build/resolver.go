// Package build implements the build lifecycle: resolving which build a
// request maps to, enqueueing, applying status callbacks, and sweeping
// timed-out builds.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/internal/store/postgres"
)

// BranchLookup is the slice of the code host API the resolver needs.
type BranchLookup interface {
	GetBranch(ctx context.Context, token, owner, repo, branch string) (*github.Branch, error)
}

// Params identify the build a request refers to: either an existing build
// by ID, or a (branch, sha) pair.
type Params struct {
	BuildID int64
	Branch  string
	Sha     string
}

// Resolver decides which build record a new build request should use.
type Resolver struct {
	store  store.Store
	github BranchLookup
	logger *slog.Logger
}

// NewResolver creates a new build resolver.
func NewResolver(st store.Store, gh BranchLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  st,
		github: gh,
		logger: logger,
	}
}

// GetBuild resolves the build a request refers to.
//
// With a build ID it returns the existing build scoped to the site. With a
// branch it returns the most recent build for (site, branch), filling in the
// caller's sha only when the existing build lacks one; a build's own recorded
// sha is never overwritten. When no local build exists, the upstream branch
// tip is consulted and a new unsaved build is synthesized from it.
func (r *Resolver) GetBuild(ctx context.Context, user *models.User, site *models.Site, params Params) (*models.Build, error) {
	if params.BuildID != 0 {
		b, err := r.store.Builds().GetForSite(ctx, params.BuildID, site.ID)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				return nil, ErrBuildNotFound
			}
			return nil, fmt.Errorf("looking up build %d: %w", params.BuildID, err)
		}
		return b, nil
	}

	b, err := r.store.Builds().LatestForBranch(ctx, site.ID, params.Branch)
	if err == nil {
		if b.RequestedCommitSha == "" {
			b.RequestedCommitSha = params.Sha
		}
		return b, nil
	}
	if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("looking up latest build for %s: %w", params.Branch, err)
	}

	token := ""
	if user != nil {
		token = user.GitHubToken
	}
	branch, err := r.github.GetBranch(ctx, token, site.Owner, site.Repository, params.Branch)
	if err != nil {
		if errors.Is(err, github.ErrBranchNotFound) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("looking up upstream branch %s: %w", params.Branch, err)
	}

	return &models.Build{
		SiteID:             site.ID,
		Branch:             params.Branch,
		RequestedCommitSha: branch.Commit.SHA,
	}, nil
}

// Request resolves or creates the build for a request, suppressing duplicate
// in-flight builds. The returned bool is true when a new build was created;
// false means an existing in-flight build absorbed the request.
func (r *Resolver) Request(ctx context.Context, user *models.User, site *models.Site, params Params) (*models.Build, bool, error) {
	resolved, err := r.GetBuild(ctx, user, site, params)
	if err != nil {
		return nil, false, err
	}

	branch := resolved.Branch

	// An existing created/queued build for this branch makes the request a
	// no-op; the pending build will pick up the branch tip anyway.
	inFlight, err := r.store.Builds().FindInFlight(ctx, site.ID, branch)
	if err == nil {
		r.logger.Debug("suppressed duplicate build request",
			"site_id", site.ID,
			"branch", branch,
			"build_id", inFlight.ID,
		)
		return inFlight, false, nil
	}
	if !errors.Is(err, postgres.ErrNotFound) {
		return nil, false, fmt.Errorf("checking in-flight builds: %w", err)
	}

	b := &models.Build{
		SiteID:             site.ID,
		Token:              uuid.New().String(),
		Branch:             branch,
		RequestedCommitSha: resolved.RequestedCommitSha,
		State:              models.BuildStateCreated,
	}
	if params.Sha != "" && b.RequestedCommitSha == "" {
		b.RequestedCommitSha = params.Sha
	}
	if user != nil {
		b.UserID = user.ID
		b.Username = user.Username
	}

	if err := r.store.Builds().Create(ctx, b); err != nil {
		return nil, false, fmt.Errorf("creating build: %w", err)
	}

	return b, true, nil
}
