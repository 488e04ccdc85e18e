package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, vcs.ErrEmptyCommit) {
//	    // nothing changed since the last snapshot
//	}
var (
	// ErrEmptyCommit is returned by Commit when no changes are staged.
	// An unchanged re-run of the backup hits this path; it is not a failure.
	ErrEmptyCommit = errors.New("no changes staged for commit")

	// ErrAlreadyUpToDate is returned by Push when the remote already
	// has the local state.
	ErrAlreadyUpToDate = errors.New("already up to date")

	// ErrPushRejected is returned when the remote refuses the push,
	// typically a non-fast-forward update.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrAuthRequired is returned when the remote requires credentials
	// that were not provided or were refused.
	ErrAuthRequired = errors.New("authentication required")
)
