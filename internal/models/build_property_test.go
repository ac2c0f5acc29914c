package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStates = []BuildState{
	BuildStateCreated, BuildStateQueued, BuildStateTasked, BuildStateProcessing,
	BuildStateSkipped, BuildStateSuccess, BuildStateError, BuildStateInvalid,
}

// genState generates any known build state.
func genState() gopter.Gen {
	vals := make([]interface{}, len(allStates))
	for i, s := range allStates {
		vals[i] = s
	}
	return gen.OneConstOf(vals...)
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no transition leaves a terminal state", prop.ForAll(
		func(from, to BuildState) bool {
			if !from.Terminal() {
				return true
			}
			return !CanTransition(from, to)
		},
		genState(),
		genState(),
	))

	properties.Property("applying any change to a terminal build fails", prop.ForAll(
		func(from, to BuildState) bool {
			if !from.Terminal() {
				return true
			}
			b := &Build{State: from}
			err := b.Apply(StateChange{To: to}, time.Now())
			return errors.Is(err, ErrInvalidTransition) && b.State == from
		},
		genState(),
		genState(),
	))

	properties.TestingRun(t)
}

func TestApplyStampsTimestamps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("completedAt is set exactly when entering a terminal state", prop.ForAll(
		func(from, to BuildState) bool {
			if !CanTransition(from, to) {
				return true
			}
			b := &Build{State: from}
			now := time.Now().UTC()
			if err := b.Apply(StateChange{To: to}, now); err != nil {
				return false
			}
			if to.Terminal() {
				return b.CompletedAt != nil && b.CompletedAt.Equal(now)
			}
			return b.CompletedAt == nil
		},
		genState(),
		genState(),
	))

	properties.Property("startedAt is set exactly when entering processing", prop.ForAll(
		func(from, to BuildState) bool {
			if !CanTransition(from, to) {
				return true
			}
			b := &Build{State: from}
			now := time.Now().UTC()
			if err := b.Apply(StateChange{To: to}, now); err != nil {
				return false
			}
			if to == BuildStateProcessing {
				return b.StartedAt != nil && b.StartedAt.Equal(now)
			}
			return b.StartedAt == nil
		},
		genState(),
		genState(),
	))

	properties.TestingRun(t)
}

func TestStateMachineShape(t *testing.T) {
	cases := []struct {
		from, to BuildState
		ok       bool
	}{
		{BuildStateCreated, BuildStateQueued, true},
		{BuildStateCreated, BuildStateInvalid, true},
		{BuildStateCreated, BuildStateProcessing, false},
		{BuildStateCreated, BuildStateSuccess, false},
		{BuildStateQueued, BuildStateTasked, true},
		{BuildStateQueued, BuildStateProcessing, true},
		{BuildStateQueued, BuildStateSuccess, true},
		{BuildStateQueued, BuildStateError, true},
		{BuildStateQueued, BuildStateSkipped, true},
		{BuildStateQueued, BuildStateInvalid, false},
		{BuildStateTasked, BuildStateProcessing, true},
		{BuildStateTasked, BuildStateQueued, false},
		{BuildStateProcessing, BuildStateSuccess, true},
		{BuildStateProcessing, BuildStateError, true},
		{BuildStateProcessing, BuildStateSkipped, true},
		{BuildStateProcessing, BuildStateTasked, false},
		{BuildStateSuccess, BuildStateError, false},
		{BuildStateInvalid, BuildStateQueued, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestApplyRecordsErrorMessage(t *testing.T) {
	b := &Build{State: BuildStateProcessing}
	now := time.Now().UTC()
	if err := b.Apply(StateChange{To: BuildStateError, Message: "boom"}, now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.Error != "boom" {
		t.Errorf("Error = %q, want %q", b.Error, "boom")
	}

	b = &Build{State: BuildStateQueued}
	if err := b.Apply(StateChange{To: BuildStateSuccess, Message: "ignored"}, now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.Error != "" {
		t.Errorf("Error = %q, want empty on success", b.Error)
	}
}

func TestValidateBranch(t *testing.T) {
	valid := []string{"main", "feature/my-branch", "v1.2.3", "release_2024", "a"}
	for _, branch := range valid {
		if err := ValidateBranch(branch); err != nil {
			t.Errorf("ValidateBranch(%q) = %v, want nil", branch, err)
		}
	}

	invalid := []string{
		"",
		"branch with spaces",
		"branch;rm -rf",
		"branch\nname",
		strings.Repeat("a", MaxBranchLength+1),
	}
	for _, branch := range invalid {
		err := ValidateBranch(branch)
		if err == nil {
			t.Errorf("ValidateBranch(%q) = nil, want error", branch)
			continue
		}
		if !errors.Is(err, ErrInvalidBranch) {
			t.Errorf("ValidateBranch(%q) = %v, want ErrInvalidBranch", branch, err)
		}
	}

	if err := ValidateBranch(strings.Repeat("a", MaxBranchLength)); err != nil {
		t.Errorf("branch at max length should validate, got %v", err)
	}
}

func TestValidateSha(t *testing.T) {
	if err := ValidateSha(""); err != nil {
		t.Errorf("empty sha should be allowed, got %v", err)
	}
	if err := ValidateSha(strings.Repeat("ab", 20)); err != nil {
		t.Errorf("valid sha rejected: %v", err)
	}
	for _, sha := range []string{"abc", strings.Repeat("g", 40), strings.Repeat("AB", 20)} {
		if err := ValidateSha(sha); err == nil {
			t.Errorf("ValidateSha(%q) = nil, want error", sha)
		}
	}
}
