package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// BuildState represents the current state of a build.
type BuildState string

const (
	BuildStateCreated    BuildState = "created"
	BuildStateQueued     BuildState = "queued"
	BuildStateTasked     BuildState = "tasked"
	BuildStateProcessing BuildState = "processing"
	BuildStateSkipped    BuildState = "skipped"
	BuildStateSuccess    BuildState = "success"
	BuildStateError      BuildState = "error"
	BuildStateInvalid    BuildState = "invalid"
)

// TimeoutMessage is recorded on builds failed by the timeout sweeper.
const TimeoutMessage = "The build timed out"

// MaxBranchLength bounds branch names stored on a build.
const MaxBranchLength = 299

// branchPattern accepts the characters git permits in common branch names.
var branchPattern = regexp.MustCompile(`^[\w.\-/]+$`)

// shaPattern matches a full 40-character hex commit SHA.
var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ErrInvalidTransition is returned when a state change is not permitted
// from the build's current state.
var ErrInvalidTransition = errors.New("invalid build state transition")

// ErrInvalidBranch is returned when a branch name fails validation.
var ErrInvalidBranch = errors.New("invalid branch")

// transitions is the full state machine. Terminal states have no entries.
var transitions = map[BuildState][]BuildState{
	BuildStateCreated:    {BuildStateQueued, BuildStateInvalid},
	BuildStateQueued:     {BuildStateTasked, BuildStateProcessing, BuildStateSuccess, BuildStateError, BuildStateSkipped},
	BuildStateTasked:     {BuildStateProcessing, BuildStateSuccess, BuildStateError, BuildStateSkipped},
	BuildStateProcessing: {BuildStateSuccess, BuildStateError, BuildStateSkipped},
}

// Build represents one build attempt for a site branch.
type Build struct {
	ID     int64 `json:"id"`
	SiteID int64 `json:"site_id"`
	// UserID is zero for anonymous and system-triggered builds.
	UserID int64 `json:"user_id,omitempty"`

	// Token authorizes status callbacks from the external executor.
	Token string `json:"-"`

	Branch             string `json:"branch"`
	RequestedCommitSha string `json:"requested_commit_sha,omitempty"`
	ClonedCommitSha    string `json:"cloned_commit_sha,omitempty"`
	// Username is a snapshot of the triggering user's name.
	Username string `json:"username,omitempty"`

	State BuildState `json:"state"`
	// Error holds a human-readable failure message.
	Error string `json:"error,omitempty"`
	// LogsS3Key is set once the build's logs have been archived.
	LogsS3Key string `json:"logs_s3_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the state permits no further transitions.
func (s BuildState) Terminal() bool {
	switch s {
	case BuildStateSuccess, BuildStateError, BuildStateSkipped, BuildStateInvalid:
		return true
	}
	return false
}

// Valid reports whether s is a known build state.
func (s BuildState) Valid() bool {
	switch s {
	case BuildStateCreated, BuildStateQueued, BuildStateTasked, BuildStateProcessing,
		BuildStateSkipped, BuildStateSuccess, BuildStateError, BuildStateInvalid:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to BuildState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange describes one requested build state transition.
type StateChange struct {
	To BuildState
	// Message populates the build's error field on failing transitions.
	Message string
	// ClonedCommitSha records the SHA the executor actually checked out.
	ClonedCommitSha string
}

// Apply transitions the build according to the state machine, stamping
// startedAt on entering processing and completedAt on entering a terminal
// state. This is the only code path that sets those timestamps.
func (b *Build) Apply(change StateChange, now time.Time) error {
	if !change.To.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, change.To)
	}
	if !CanTransition(b.State, change.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.State, change.To)
	}

	b.State = change.To
	b.UpdatedAt = now

	if change.To == BuildStateProcessing && b.StartedAt == nil {
		t := now
		b.StartedAt = &t
	}
	if change.To.Terminal() {
		t := now
		b.CompletedAt = &t
	}
	if change.To == BuildStateError || change.To == BuildStateInvalid {
		b.Error = change.Message
	}
	if change.ClonedCommitSha != "" {
		b.ClonedCommitSha = change.ClonedCommitSha
	}

	return nil
}

// ValidateBranch checks a branch name against the allowed pattern.
func ValidateBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("%w: branch is required", ErrInvalidBranch)
	}
	if len(branch) > MaxBranchLength {
		return fmt.Errorf("%w: branch exceeds %d characters", ErrInvalidBranch, MaxBranchLength)
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("%w: branch %q contains invalid characters", ErrInvalidBranch, branch)
	}
	return nil
}

// ValidateSha checks a commit SHA; empty is allowed.
func ValidateSha(sha string) error {
	if sha == "" {
		return nil
	}
	if !shaPattern.MatchString(sha) {
		return fmt.Errorf("commit sha %q is not a 40-character hex string", sha)
	}
	return nil
}
