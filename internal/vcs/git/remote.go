package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// Fetch fetches from the specified remote and reference
// If remote is empty, uses the default remote (origin)
func (g *Git) Fetch(ctx context.Context, remote, ref string) error {
	if !g.HasRemote() {
		return vcs.ErrNoRemote
	}

	if remote == "" {
		remote = vcs.DefaultRemote
	}

	args := []string{"fetch", "-q", remote}
	if ref != "" {
		// Explicit refspec so the remote-tracking ref is updated even when
		// the remote has no configured fetch spec for it
		args = append(args, fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", ref, remote, ref))
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		outputStr := string(output)

		// An empty remote has no branch to fetch yet
		if ref != "" && strings.Contains(outputStr, "couldn't find remote ref") {
			return vcs.ErrRefNotFound
		}

		return fmt.Errorf("git fetch failed: %w\n%s", err, outputStr)
	}

	return nil
}

// Push pushes changes to the remote
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	if !g.HasRemote() {
		return vcs.ErrNoRemote
	}

	remote := opts.Remote
	if remote == "" {
		remote = vcs.DefaultRemote
	}

	ref := opts.Ref
	if ref == "" {
		var err error
		ref, err = g.CurrentRef()
		if err != nil {
			return err
		}
		if ref == "" {
			return vcs.ErrDetached
		}
	}

	args := []string{"push", "-q", remote, ref}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		outputStr := string(output)

		// Check for push rejection
		if strings.Contains(outputStr, "rejected") || strings.Contains(outputStr, "non-fast-forward") {
			return vcs.ErrPushRejected
		}

		return fmt.Errorf("git push failed: %w\n%s", err, outputStr)
	}

	return nil
}
