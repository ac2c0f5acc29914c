package build

import "errors"

// Errors returned by build services; handlers map these onto HTTP statuses.
var (
	// ErrBuildNotFound is returned when a referenced build does not exist
	// for the requesting site.
	ErrBuildNotFound = errors.New("build not found")

	// ErrBranchNotFound is returned when a branch has no local builds and
	// does not exist on the upstream repository either.
	ErrBranchNotFound = errors.New("branch not found on upstream repository")

	// ErrForbidden is returned when a status callback presents the wrong
	// build token.
	ErrForbidden = errors.New("invalid build token")
)
