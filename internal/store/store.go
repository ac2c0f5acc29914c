// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
)

// BuildStore defines operations for build lifecycle management.
type BuildStore interface {
	// Create persists a new build, assigning its ID and CreatedAt.
	Create(ctx context.Context, build *models.Build) error
	// Get retrieves a build by ID.
	Get(ctx context.Context, id int64) (*models.Build, error)
	// GetForSite retrieves a build scoped to (id, site).
	GetForSite(ctx context.Context, id, siteID int64) (*models.Build, error)
	// LatestForBranch retrieves the most recent build for (site, branch).
	LatestForBranch(ctx context.Context, siteID int64, branch string) (*models.Build, error)
	// FindInFlight retrieves a build for (site, branch) still in the
	// created or queued state, if any.
	FindInFlight(ctx context.Context, siteID int64, branch string) (*models.Build, error)
	// UpdateStateGuarded persists the build's state fields only if the
	// stored row is still in one of the expected states. Returns false
	// when the guard did not match, which callers treat as a lost race.
	UpdateStateGuarded(ctx context.Context, build *models.Build, expected []models.BuildState) (bool, error)
	// SweepTimedOut bulk-fails builds stuck in processing since before
	// processingBefore or tasked without updates since before taskedBefore,
	// stamping the timeout error and completion time. Returns affected IDs.
	SweepTimedOut(ctx context.Context, now, processingBefore, taskedBefore time.Time) ([]int64, error)
	// ListForSite retrieves builds for a site, most recent first.
	ListForSite(ctx context.Context, siteID int64, limit int) ([]*models.Build, error)
	// ListArchivable retrieves builds completed within the window whose
	// logs have not yet been archived.
	ListArchivable(ctx context.Context, start, end time.Time) ([]*models.Build, error)
	// SetLogsKey records the object storage key of a build's archived logs.
	SetLogsKey(ctx context.Context, id int64, key string) error
}

// BuildLogStore defines operations for raw build output lines.
type BuildLogStore interface {
	// Append records one output line for a build.
	Append(ctx context.Context, entry *models.BuildLog) error
	// ListForBuild retrieves all log lines for a build in insertion order.
	ListForBuild(ctx context.Context, buildID int64) ([]*models.BuildLog, error)
	// DeleteForBuild removes all log lines for a build, returning the count.
	DeleteForBuild(ctx context.Context, buildID int64) (int64, error)
}

// SiteStore defines operations for site management.
type SiteStore interface {
	// Get retrieves a site by ID.
	Get(ctx context.Context, id int64) (*models.Site, error)
	// List retrieves all sites.
	List(ctx context.Context) ([]*models.Site, error)
	// ListNightly retrieves sites with a nightly-scheduled branch config.
	ListNightly(ctx context.Context) ([]*models.Site, error)
	// SetRepoLastVerified stamps a successful repository verification.
	SetRepoLastVerified(ctx context.Context, siteID int64, verifiedAt time.Time) error
}

// UserStore defines operations for user management.
type UserStore interface {
	// Get retrieves a user by ID.
	Get(ctx context.Context, id int64) (*models.User, error)
	// GetByUsername retrieves a user by code host username.
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// ListForSite retrieves users associated with a site, most recently
	// signed in first.
	ListForSite(ctx context.Context, siteID int64) ([]*models.User, error)
	// ListInactiveMembers retrieves org members whose last sign-in is
	// before the cutoff (or who never signed in).
	ListInactiveMembers(ctx context.Context, cutoff time.Time) ([]*models.User, error)
	// SetOrgMembership updates a user's upstream membership flag.
	SetOrgMembership(ctx context.Context, userID int64, member bool) error
}

// Store is the main interface for database operations.
type Store interface {
	// Builds returns the BuildStore for build lifecycle operations.
	Builds() BuildStore
	// BuildLogs returns the BuildLogStore for raw log operations.
	BuildLogs() BuildLogStore
	// Sites returns the SiteStore for site operations.
	Sites() SiteStore
	// Users returns the UserStore for user operations.
	Users() UserStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Close closes the database connection.
	Close() error
}
