package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloud-gov/pages-core/internal/models"
	"github.com/cloud-gov/pages-core/internal/store"
)

// OrgMembershipManager is the slice of the code host API the audit needs.
type OrgMembershipManager interface {
	ListOrgMembers(ctx context.Context, token, org string) ([]string, error)
	RemoveOrgMember(ctx context.Context, token, org, username string) error
}

// RevokeInactiveMembers removes organization members who have not signed in
// within the inactivity cutoff, and reconciles the local membership flag.
type RevokeInactiveMembers struct {
	store        store.Store
	github       OrgMembershipManager
	org          string
	auditorToken string
	cutoff       time.Duration
	concurrency  int
	now          func() time.Time
	logger       *slog.Logger
}

// NewRevokeInactiveMembers creates the membership audit job.
func NewRevokeInactiveMembers(st store.Store, gh OrgMembershipManager, org, auditorToken string, cutoff time.Duration, concurrency int, logger *slog.Logger) *RevokeInactiveMembers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevokeInactiveMembers{
		store:        st,
		github:       gh,
		org:          org,
		auditorToken: auditorToken,
		cutoff:       cutoff,
		concurrency:  concurrency,
		now:          time.Now,
		logger:       logger,
	}
}

// Run revokes membership for every inactive user. Users already gone from
// the organization only have their local flag cleared.
func (j *RevokeInactiveMembers) Run(ctx context.Context) (*Result, error) {
	usernames, err := j.github.ListOrgMembers(ctx, j.auditorToken, j.org)
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", j.org, err)
	}
	members := make(map[string]struct{}, len(usernames))
	for _, name := range usernames {
		members[strings.ToLower(name)] = struct{}{}
	}

	cutoff := j.now().UTC().Add(-j.cutoff)
	inactive, err := j.store.Users().ListInactiveMembers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing inactive members: %w", err)
	}

	result := settle(ctx, inactive, j.concurrency,
		func(u *models.User) string { return u.Username },
		func(ctx context.Context, u *models.User) error {
			return j.revoke(ctx, u, members)
		})
	return result, nil
}

func (j *RevokeInactiveMembers) revoke(ctx context.Context, u *models.User, members map[string]struct{}) error {
	if _, ok := members[strings.ToLower(u.Username)]; ok {
		if err := j.github.RemoveOrgMember(ctx, j.auditorToken, j.org, u.Username); err != nil {
			return fmt.Errorf("removing from %s: %w", j.org, err)
		}
		j.logger.Info("revoked organization membership",
			"username", u.Username,
			"org", j.org,
		)
	}
	if err := j.store.Users().SetOrgMembership(ctx, u.ID, false); err != nil {
		return fmt.Errorf("clearing membership flag: %w", err)
	}
	return nil
}
