package models

import "time"

// User represents a platform user with a code host identity.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`

	// GitHubToken is the user's code host access token.
	GitHubToken string `json:"-"`

	// IsOrgMember tracks whether the user currently holds upstream
	// organization membership.
	IsOrgMember bool `json:"is_org_member"`

	// SignedInAt is the user's most recent sign-in, used to order
	// credential candidates and to detect inactivity.
	SignedInAt *time.Time `json:"signed_in_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
