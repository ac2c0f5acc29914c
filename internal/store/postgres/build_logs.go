package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
)

// BuildLogStore implements store.BuildLogStore using PostgreSQL.
type BuildLogStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *BuildLogStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Append records one output line for a build.
func (s *BuildLogStore) Append(ctx context.Context, entry *models.BuildLog) error {
	query := `
		INSERT INTO build_logs (build_id, source, output, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	if entry.Source == "" {
		entry.Source = models.BuildLogSourceAll
	}
	now := time.Now().UTC()

	err := s.conn().QueryRowContext(ctx, query,
		entry.BuildID,
		entry.Source,
		entry.Output,
		now,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting build log: %w", err)
	}

	return nil
}

// ListForBuild retrieves all log lines for a build in insertion order.
func (s *BuildLogStore) ListForBuild(ctx context.Context, buildID int64) ([]*models.BuildLog, error) {
	query := `
		SELECT id, build_id, source, output, created_at
		FROM build_logs
		WHERE build_id = $1
		ORDER BY id ASC`

	rows, err := s.conn().QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("querying build logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.BuildLog
	for rows.Next() {
		entry := &models.BuildLog{}
		if err := rows.Scan(&entry.ID, &entry.BuildID, &entry.Source, &entry.Output, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning build log row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build log rows: %w", err)
	}

	return entries, nil
}

// DeleteForBuild removes all log lines for a build, returning the count.
func (s *BuildLogStore) DeleteForBuild(ctx context.Context, buildID int64) (int64, error) {
	query := `DELETE FROM build_logs WHERE build_id = $1`

	result, err := s.conn().ExecContext(ctx, query, buildID)
	if err != nil {
		return 0, fmt.Errorf("deleting build logs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rowsAffected, nil
}
