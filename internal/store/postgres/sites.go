package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
)

// SiteStore implements store.SiteStore using PostgreSQL.
type SiteStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *SiteStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const siteColumns = `id, owner, repository, default_branch, demo_branch,
	default_branch_schedule, demo_branch_schedule, repo_last_verified,
	created_at, updated_at`

func scanSite(row scanner) (*models.Site, error) {
	site := &models.Site{}
	var demoBranch, defaultSchedule, demoSchedule sql.NullString
	var repoLastVerified sql.NullTime

	err := row.Scan(
		&site.ID,
		&site.Owner,
		&site.Repository,
		&site.DefaultBranch,
		&demoBranch,
		&defaultSchedule,
		&demoSchedule,
		&repoLastVerified,
		&site.CreatedAt,
		&site.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	site.DemoBranch = demoBranch.String
	site.DefaultBranchSchedule = models.BuildSchedule(defaultSchedule.String)
	site.DemoBranchSchedule = models.BuildSchedule(demoSchedule.String)
	if repoLastVerified.Valid {
		site.RepoLastVerified = &repoLastVerified.Time
	}

	return site, nil
}

// Get retrieves a site by ID.
func (s *SiteStore) Get(ctx context.Context, id int64) (*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1`

	site, err := scanSite(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying site: %w", err)
	}

	return site, nil
}

// List retrieves all sites.
func (s *SiteStore) List(ctx context.Context) ([]*models.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites ORDER BY id ASC`
	return s.list(ctx, query)
}

// ListNightly retrieves sites with a nightly-scheduled branch config.
func (s *SiteStore) ListNightly(ctx context.Context) ([]*models.Site, error) {
	query := `
		SELECT ` + siteColumns + `
		FROM sites
		WHERE default_branch_schedule = $1 OR demo_branch_schedule = $1
		ORDER BY id ASC`
	return s.list(ctx, query, string(models.ScheduleNightly))
}

func (s *SiteStore) list(ctx context.Context, query string, args ...any) ([]*models.Site, error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sites: %w", err)
	}
	defer rows.Close()

	var sites []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site row: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating site rows: %w", err)
	}

	return sites, nil
}

// SetRepoLastVerified stamps a successful repository verification.
func (s *SiteStore) SetRepoLastVerified(ctx context.Context, siteID int64, verifiedAt time.Time) error {
	query := `
		UPDATE sites
		SET repo_last_verified = $2, updated_at = $2
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, siteID, verifiedAt)
	if err != nil {
		return fmt.Errorf("updating repo verification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
