package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // Handle case where the store path is not a repository
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a VCS repository but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the git binary is not
	// installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrRefNotFound is returned when a reference cannot be resolved.
	ErrRefNotFound = errors.New("reference not found")

	// ErrNoRemote is returned when an operation requires a remote
	// but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrConflicts is returned when an operation cannot complete
	// due to unresolved conflicts.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrDetached is returned when an operation requires being on
	// a branch but HEAD is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// This is useful for transient network errors or rejected pushes.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts are often transient
	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Push rejections succeed after a sync
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return false
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	if errors.Is(err, ErrVCSNotAvailable) {
		return true
	}

	return false
}
