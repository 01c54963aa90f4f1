// Package git drives the git binary for the document store.
//
// This package wraps git commands to provide the operations needed by the
// document store: repository discovery and creation, commits for
// transactions, fetch and push for sync, and the plumbing (temporary
// indexes, blob and tree writes, three-way file merges) the rebase engine
// uses to replay local commits without touching the working tree.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// Git is a handle on one git working tree.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path
	vcsDir string
}

// New creates a new Git instance for the given repository.
// The path should be somewhere within a git repository.
func New(path string) (*Git, error) {
	g := &Git{}

	// Detect repository information
	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Version returns the git version string
func (g *Git) Version() (string, error) {
	cmd := exec.Command("git", "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	// Output format: "git version 2.39.0"
	version := strings.TrimSpace(string(output))
	version = strings.TrimPrefix(version, "git version ")

	return version, nil
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() (string, error) {
	if g.repoRoot == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.repoRoot, nil
}

// VCSDir returns the .git directory path
func (g *Git) VCSDir() (string, error) {
	if g.vcsDir == "" {
		return "", vcs.ErrNotInVCS
	}
	return g.vcsDir, nil
}

// run executes a git command with extra environment and optional stdin and
// returns stdout. Used by the plumbing helpers, which must keep stdout and
// stderr apart.
func (g *Git) run(ctx context.Context, env []string, stdin []byte, args ...string) ([]byte, error) {
	opts := vcs.ExecOptions{Dir: g.repoRoot, Env: env}
	if stdin != nil {
		opts.Stdin = strings.NewReader(string(stdin))
	}

	out, err := vcs.Run(ctx, opts, "git", args...)
	if err != nil {
		return out, fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return out, nil
}
