package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// NightlyBuilds queues a build for every branch opted in to the nightly
// schedule. Builds are attributed to the configured auditor user.
type NightlyBuilds struct {
	store           store.Store
	resolver        *build.Resolver
	enqueuer        *build.Enqueuer
	auditorUsername string
	concurrency     int
	logger          *slog.Logger
}

// NewNightlyBuilds creates the nightly build job.
func NewNightlyBuilds(st store.Store, resolver *build.Resolver, enqueuer *build.Enqueuer, auditorUsername string, concurrency int, logger *slog.Logger) *NightlyBuilds {
	if logger == nil {
		logger = slog.Default()
	}
	return &NightlyBuilds{
		store:           st,
		resolver:        resolver,
		enqueuer:        enqueuer,
		auditorUsername: auditorUsername,
		concurrency:     concurrency,
		logger:          logger,
	}
}

type nightlyTarget struct {
	site   *models.Site
	branch string
}

func (t nightlyTarget) name() string {
	return fmt.Sprintf("%s@%s", t.site.FullName(), t.branch)
}

// Run queues one build per (site, branch) with a nightly schedule. A failure
// on one branch never blocks the others.
func (j *NightlyBuilds) Run(ctx context.Context) (*Result, error) {
	auditor, err := j.store.Users().GetByUsername(ctx, j.auditorUsername)
	if err != nil {
		return nil, fmt.Errorf("looking up auditor user %s: %w", j.auditorUsername, err)
	}

	sites, err := j.store.Sites().ListNightly(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nightly sites: %w", err)
	}

	var targets []nightlyTarget
	for _, site := range sites {
		for _, branch := range site.NightlyBranches() {
			targets = append(targets, nightlyTarget{site: site, branch: branch})
		}
	}

	result := settle(ctx, targets, j.concurrency, nightlyTarget.name, func(ctx context.Context, t nightlyTarget) error {
		return j.queueBuild(ctx, auditor, t)
	})
	return result, nil
}

func (j *NightlyBuilds) queueBuild(ctx context.Context, auditor *models.User, t nightlyTarget) error {
	b, created, err := j.resolver.Request(ctx, auditor, t.site, build.Params{Branch: t.branch})
	if err != nil {
		return err
	}
	if !created {
		j.logger.Debug("nightly build absorbed by in-flight build",
			"site_id", t.site.ID,
			"branch", t.branch,
			"build_id", b.ID,
		)
		return nil
	}
	return j.enqueuer.Enqueue(ctx, t.site, b)
}
