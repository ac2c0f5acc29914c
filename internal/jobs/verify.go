package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/integrations/github"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// RepositoryChecker is the slice of the code host API the verifier needs.
type RepositoryChecker interface {
	GetRepository(ctx context.Context, token, owner, repo string) (*github.Repository, error)
}

// VerifyRepos confirms each site's upstream repository still exists and is
// reachable by at least one of the site's users.
type VerifyRepos struct {
	store       store.Store
	github      RepositoryChecker
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewVerifyRepos creates the repository verification job.
func NewVerifyRepos(st store.Store, gh RepositoryChecker, concurrency int, logger *slog.Logger) *VerifyRepos {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyRepos{
		store:       st,
		github:      gh,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Run verifies every site's repository, recording the verification time on
// success.
func (j *VerifyRepos) Run(ctx context.Context) (*Result, error) {
	sites, err := j.store.Sites().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}

	result := settle(ctx, sites, j.concurrency,
		func(s *models.Site) string { return s.FullName() },
		j.verifySite)
	return result, nil
}

// candidateTokens orders the distinct non-empty tokens to try, most recently
// signed-in user first. The ordering comes pre-sorted from the store.
func candidateTokens(users []*models.User) []string {
	seen := make(map[string]struct{}, len(users))
	tokens := make([]string, 0, len(users))
	for _, u := range users {
		if u.GitHubToken == "" {
			continue
		}
		if _, ok := seen[u.GitHubToken]; ok {
			continue
		}
		seen[u.GitHubToken] = struct{}{}
		tokens = append(tokens, u.GitHubToken)
	}
	return tokens
}

func (j *VerifyRepos) verifySite(ctx context.Context, site *models.Site) error {
	users, err := j.store.Users().ListForSite(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	tokens := candidateTokens(users)
	if len(tokens) == 0 {
		return fmt.Errorf("no users with credentials")
	}

	var lastErr error
	for _, token := range tokens {
		_, err := j.github.GetRepository(ctx, token, site.Owner, site.Repository)
		if err == nil {
			if err := j.store.Sites().SetRepoLastVerified(ctx, site.ID, j.now().UTC()); err != nil {
				return fmt.Errorf("recording verification: %w", err)
			}
			return nil
		}
		lastErr = err
		if !errors.Is(err, github.ErrRepositoryNotFound) {
			j.logger.Debug("repository lookup failed, trying next credential",
				"site_id", site.ID,
				"error", err,
			)
		}
	}
	return fmt.Errorf("no user could verify repository: %w", lastErr)
}
