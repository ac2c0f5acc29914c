package models

import "time"

// BuildSchedule is a branch configuration's build cadence.
type BuildSchedule string

const (
	// ScheduleNightly requests one automatic build per day.
	ScheduleNightly BuildSchedule = "nightly"
)

// Site represents a connected repository that builds are run for.
type Site struct {
	ID    int64  `json:"id"`
	Owner string `json:"owner"`
	// Repository is the repo name under Owner at the code host.
	Repository string `json:"repository"`

	DefaultBranch string `json:"default_branch"`
	DemoBranch    string `json:"demo_branch,omitempty"`

	// DefaultBranchSchedule and DemoBranchSchedule hold per-branch build
	// cadence configuration; empty means no scheduled builds.
	DefaultBranchSchedule BuildSchedule `json:"default_branch_schedule,omitempty"`
	DemoBranchSchedule    BuildSchedule `json:"demo_branch_schedule,omitempty"`

	// RepoLastVerified is stamped by the repository verification job.
	RepoLastVerified *time.Time `json:"repo_last_verified,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NightlyBranches returns the branches of this site configured for
// nightly builds.
func (s *Site) NightlyBranches() []string {
	var branches []string
	if s.DefaultBranchSchedule == ScheduleNightly && s.DefaultBranch != "" {
		branches = append(branches, s.DefaultBranch)
	}
	if s.DemoBranchSchedule == ScheduleNightly && s.DemoBranch != "" && s.DemoBranch != s.DefaultBranch {
		branches = append(branches, s.DemoBranch)
	}
	return branches
}

// FullName returns the owner/repository path at the code host.
func (s *Site) FullName() string {
	return s.Owner + "/" + s.Repository
}
