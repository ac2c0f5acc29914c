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

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *UserStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const userColumns = `id, username, email, github_token, is_org_member,
	signed_in_at, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	var email, githubToken sql.NullString
	var signedInAt sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&githubToken,
		&user.IsOrgMember,
		&signedInAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Email = email.String
	user.GitHubToken = githubToken.String
	if signedInAt.Valid {
		user.SignedInAt = &signedInAt.Time
	}

	return user, nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return user, nil
}

// GetByUsername retrieves a user by code host username.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(s.conn().QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user by username: %w", err)
	}

	return user, nil
}

// ListForSite retrieves users associated with a site, most recently signed in
// first. Users who never signed in sort last.
func (s *UserStore) ListForSite(ctx context.Context, siteID int64) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		JOIN site_users ON site_users.user_id = users.id
		WHERE site_users.site_id = $1
		ORDER BY signed_in_at DESC NULLS LAST`

	return s.list(ctx, query, siteID)
}

// ListInactiveMembers retrieves org members whose last sign-in is before the
// cutoff, or who never signed in.
func (s *UserStore) ListInactiveMembers(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_org_member = TRUE
		  AND (signed_in_at IS NULL OR signed_in_at < $1)
		ORDER BY id ASC`

	return s.list(ctx, query, cutoff)
}

func (s *UserStore) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}

	return users, nil
}

// SetOrgMembership updates a user's upstream membership flag.
func (s *UserStore) SetOrgMembership(ctx context.Context, userID int64, member bool) error {
	query := `
		UPDATE users
		SET is_org_member = $2, updated_at = $3
		WHERE id = $1`

	result, err := s.conn().ExecContext(ctx, query, userID, member, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating org membership: %w", err)
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
