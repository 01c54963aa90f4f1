package docdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/o324/o324/internal/lock"
	"github.com/o324/o324/internal/vcs"
)

var (
	// ErrLocked is returned when another transaction or sync holds the
	// store's write lock. It is the same value as lock.ErrLocked.
	ErrLocked = lock.ErrLocked

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrCorrupted is returned when a stored document cannot be parsed.
	ErrCorrupted = errors.New("document is corrupted")

	// ErrTxClosed is returned when a transaction is used after Release or
	// Discard.
	ErrTxClosed = errors.New("transaction already closed")

	// ErrInvalidKey is returned for keys that cannot name a document file.
	ErrInvalidKey = errors.New("invalid document key")

	// ErrUnknownFormat is returned by ParserFor for unsupported formats.
	ErrUnknownFormat = errors.New("unknown document format")

	// ErrInterrupted is returned when a git rebase or merge started outside
	// the store is still in progress in its repository.
	ErrInterrupted = errors.New("a git rebase or merge is in progress")

	// ErrConflicts marks a sync that left conflicts unresolved.
	ErrConflicts = vcs.ErrConflicts
)

// CorruptedError reports a document whose content could not be decoded.
type CorruptedError struct {
	Key string
	Err error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("%s: %q: %v", ErrCorrupted, e.Key, e.Err)
}

func (e *CorruptedError) Is(target error) bool { return target == ErrCorrupted }

func (e *CorruptedError) Unwrap() error { return e.Err }

// ReleaseError reports the failures of a transaction release. The two
// steps are independent: the lock is released even when the commit fails,
// and a commit may have landed even though unlocking failed.
type ReleaseError struct {
	Commit error
	Unlock error
}

func (e *ReleaseError) Error() string {
	var parts []string
	if e.Commit != nil {
		parts = append(parts, "commit: "+e.Commit.Error())
	}
	if e.Unlock != nil {
		parts = append(parts, "unlock: "+e.Unlock.Error())
	}
	return "failed to release transaction: " + strings.Join(parts, "; ")
}

// Committed reports whether the transaction's changes were persisted.
func (e *ReleaseError) Committed() bool { return e.Commit == nil }

func (e *ReleaseError) Unwrap() []error {
	var errs []error
	if e.Commit != nil {
		errs = append(errs, e.Commit)
	}
	if e.Unlock != nil {
		errs = append(errs, e.Unlock)
	}
	return errs
}

// ConflictError lists the documents a sync left in conflict. It matches
// ErrConflicts.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	keys := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		keys = append(keys, c.Key)
	}
	return fmt.Sprintf("%s: %s", ErrConflicts, strings.Join(keys, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflicts }

// IsLocked returns true if err means the write lock is held elsewhere.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsCorrupted returns true if err comes from an unparseable document.
func IsCorrupted(err error) bool {
	return errors.Is(err, ErrCorrupted)
}

// IsUserActionRequired returns true for errors that retrying cannot fix:
// unresolved conflicts, and a lock that stays held (for example by a
// crashed process).
func IsUserActionRequired(err error) bool {
	return errors.Is(err, ErrConflicts) || errors.Is(err, ErrLocked)
}
