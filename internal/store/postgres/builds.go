package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/cloud-gov/pages-core/internal/models"
)

// BuildStore implements store.BuildStore using PostgreSQL.
type BuildStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *BuildStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const buildColumns = `id, site_id, user_id, token, branch, requested_commit_sha,
	cloned_commit_sha, username, state, error, logs_s3_key,
	created_at, updated_at, started_at, completed_at`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*models.Build, error) {
	build := &models.Build{}
	var userID sql.NullInt64
	var requestedSha, clonedSha, username, errMsg, logsKey sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&build.ID,
		&build.SiteID,
		&userID,
		&build.Token,
		&build.Branch,
		&requestedSha,
		&clonedSha,
		&username,
		&build.State,
		&errMsg,
		&logsKey,
		&build.CreatedAt,
		&build.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID.Valid {
		build.UserID = userID.Int64
	}
	build.RequestedCommitSha = requestedSha.String
	build.ClonedCommitSha = clonedSha.String
	build.Username = username.String
	build.Error = errMsg.String
	build.LogsS3Key = logsKey.String
	if startedAt.Valid {
		build.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		build.CompletedAt = &completedAt.Time
	}

	return build, nil
}

// nullID converts a zero user ID to NULL for anonymous builds.
func nullID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// stateStrings converts build states for use with pq.Array.
func stateStrings(states []models.BuildState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// Create persists a new build, assigning its ID and CreatedAt.
func (s *BuildStore) Create(ctx context.Context, build *models.Build) error {
	query := `
		INSERT INTO builds (site_id, user_id, token, branch, requested_commit_sha,
			cloned_commit_sha, username, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, created_at, updated_at`

	now := time.Now().UTC()
	if build.State == "" {
		build.State = models.BuildStateCreated
	}

	err := s.conn().QueryRowContext(ctx, query,
		build.SiteID,
		nullID(build.UserID),
		build.Token,
		build.Branch,
		nullString(build.RequestedCommitSha),
		nullString(build.ClonedCommitSha),
		nullString(build.Username),
		build.State,
		now,
	).Scan(&build.ID, &build.CreatedAt, &build.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting build: %w", err)
	}

	return nil
}

// Get retrieves a build by ID.
func (s *BuildStore) Get(ctx context.Context, id int64) (*models.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = $1`

	build, err := scanBuild(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying build: %w", err)
	}

	return build, nil
}

// GetForSite retrieves a build scoped to (id, site).
func (s *BuildStore) GetForSite(ctx context.Context, id, siteID int64) (*models.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = $1 AND site_id = $2`

	build, err := scanBuild(s.conn().QueryRowContext(ctx, query, id, siteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying build for site: %w", err)
	}

	return build, nil
}

// LatestForBranch retrieves the most recent build for (site, branch).
func (s *BuildStore) LatestForBranch(ctx context.Context, siteID int64, branch string) (*models.Build, error) {
	query := `
		SELECT ` + buildColumns + `
		FROM builds
		WHERE site_id = $1 AND branch = $2
		ORDER BY created_at DESC
		LIMIT 1`

	build, err := scanBuild(s.conn().QueryRowContext(ctx, query, siteID, branch))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest build for branch: %w", err)
	}

	return build, nil
}

// FindInFlight retrieves a created or queued build for (site, branch), if any.
func (s *BuildStore) FindInFlight(ctx context.Context, siteID int64, branch string) (*models.Build, error) {
	query := `
		SELECT ` + buildColumns + `
		FROM builds
		WHERE site_id = $1 AND branch = $2 AND state = ANY($3)
		ORDER BY created_at DESC
		LIMIT 1`

	inFlight := stateStrings([]models.BuildState{models.BuildStateCreated, models.BuildStateQueued})

	build, err := scanBuild(s.conn().QueryRowContext(ctx, query, siteID, branch, pq.Array(inFlight)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying in-flight build: %w", err)
	}

	return build, nil
}

// UpdateStateGuarded persists the build's state fields only if the stored row
// is still in one of the expected states. A false return means the guard did
// not match, so a concurrent writer already moved the build on.
func (s *BuildStore) UpdateStateGuarded(ctx context.Context, build *models.Build, expected []models.BuildState) (bool, error) {
	query := `
		UPDATE builds
		SET state = $2, error = $3, cloned_commit_sha = $4,
			started_at = $5, completed_at = $6, updated_at = $7
		WHERE id = $1 AND state = ANY($8)`

	result, err := s.conn().ExecContext(ctx, query,
		build.ID,
		build.State,
		nullString(build.Error),
		nullString(build.ClonedCommitSha),
		build.StartedAt,
		build.CompletedAt,
		build.UpdatedAt,
		pq.Array(stateStrings(expected)),
	)
	if err != nil {
		return false, fmt.Errorf("updating build state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SweepTimedOut bulk-fails builds stuck in processing since before
// processingBefore or tasked without updates since before taskedBefore.
// The state update itself is unconditional for matched rows so that a crash
// after this call still leaves affected builds correctly marked.
func (s *BuildStore) SweepTimedOut(ctx context.Context, now, processingBefore, taskedBefore time.Time) ([]int64, error) {
	query := `
		UPDATE builds
		SET state = $1, error = $2, completed_at = $3, updated_at = $3
		WHERE (state = $4 AND started_at < $5)
		   OR (state = $6 AND updated_at < $7)
		RETURNING id`

	rows, err := s.conn().QueryContext(ctx, query,
		models.BuildStateError,
		models.TimeoutMessage,
		now,
		models.BuildStateProcessing,
		processingBefore,
		models.BuildStateTasked,
		taskedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("sweeping timed-out builds: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning swept build id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating swept build ids: %w", err)
	}

	return ids, nil
}

// ListForSite retrieves builds for a site, most recent first.
func (s *BuildStore) ListForSite(ctx context.Context, siteID int64, limit int) ([]*models.Build, error) {
	query := `
		SELECT ` + buildColumns + `
		FROM builds
		WHERE site_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying builds for site: %w", err)
	}
	defer rows.Close()

	var builds []*models.Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		builds = append(builds, build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build rows: %w", err)
	}

	return builds, nil
}

// ListArchivable retrieves builds completed within the window whose logs have
// not yet been archived to object storage.
func (s *BuildStore) ListArchivable(ctx context.Context, start, end time.Time) ([]*models.Build, error) {
	query := `
		SELECT ` + buildColumns + `
		FROM builds
		WHERE completed_at >= $1 AND completed_at < $2
		  AND logs_s3_key IS NULL
		ORDER BY completed_at ASC`

	rows, err := s.conn().QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying archivable builds: %w", err)
	}
	defer rows.Close()

	var builds []*models.Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		builds = append(builds, build)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build rows: %w", err)
	}

	return builds, nil
}

// SetLogsKey records the object storage key of a build's archived logs.
func (s *BuildStore) SetLogsKey(ctx context.Context, id int64, key string) error {
	query := `
		UPDATE builds
		SET logs_s3_key = $2, updated_at = $3
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, id, key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting logs key: %w", err)
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
