// Package vcs holds the option types, sentinel errors and exec helpers
// shared by the git driver and the document store built on it.
//
// The store treats a repository as a transport and history substrate: a
// working tree holding one file per document, a single branch that every
// write commits to, and an optional "origin" remote used for sync.
//
// # Usage
//
//	repo, err := git.New(path)
//	if err != nil {
//	    return err
//	}
//
//	dirty, err := repo.HasChanges("2024-01-02.json")
//	if err != nil {
//	    return err
//	}
//	if dirty {
//	    err = repo.Commit(ctx, vcs.CommitOptions{
//	        Message: "o324: update 2024-01-02",
//	        Paths:   []string{"2024-01-02.json"},
//	    })
//	}
//
// # Implementations
//
//   - internal/vcs/git: git implementation driving the git binary
package vcs

// ===================
// Supporting Types
// ===================

// RemoteInfo contains information about a remote repository
type RemoteInfo struct {
	// Name is the remote name (e.g., "origin")
	Name string

	// URL is the remote URL
	URL string
}

// CommitOptions configures a commit operation
type CommitOptions struct {
	// Message is the commit message (required)
	Message string

	// Paths specifies files to commit. Empty = all staged changes.
	Paths []string

	// NoGPGSign disables GPG signing
	NoGPGSign bool

	// NoVerify skips pre-commit hooks
	NoVerify bool

	// AllowEmpty allows creating an empty commit
	AllowEmpty bool
}

// PushOptions configures a push operation
type PushOptions struct {
	// Remote is the remote name. Empty uses default.
	Remote string

	// Ref is the reference to push. Empty uses current branch.
	Ref string
}

// DivergenceInfo describes divergence between local and remote refs
type DivergenceInfo struct {
	// LocalAhead is the number of commits local is ahead of remote
	LocalAhead int

	// RemoteAhead is the number of commits remote is ahead of local
	RemoteAhead int

	// IsDiverged is true if both local and remote have unique commits
	IsDiverged bool
}

// ===================
// Constants
// ===================

// DefaultRemote is the remote name used for sync.
const DefaultRemote = "origin"

// DefaultBranch is the branch every store commits to.
const DefaultBranch = "main"
