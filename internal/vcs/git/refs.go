package git

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// CurrentRef returns the current branch name
// Returns empty string if in detached HEAD state
func (g *Git) CurrentRef() (string, error) {
	cmd := exec.Command("git", "symbolic-ref", "--short", "-q", "HEAD")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		// symbolic-ref -q exits 1 without output on a detached HEAD
		if vcs.GetExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// RefExists returns true if the named reference resolves to a commit.
// Accepts full ref names ("refs/remotes/origin/main") or short names.
func (g *Git) RefExists(name string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", name+"^{commit}")
	cmd.Dir = g.repoRoot
	return cmd.Run() == nil
}

// GetCommitHash returns the commit hash for the given reference
func (g *Git) GetCommitHash(ref string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve ref %s: %w", ref, vcs.ErrRefNotFound)
	}

	return strings.TrimSpace(string(output)), nil
}

// HasDivergence checks if local and remote refs have diverged
func (g *Git) HasDivergence(local, remote string) (vcs.DivergenceInfo, error) {
	info := vcs.DivergenceInfo{}

	cmd := exec.Command("git", "rev-list", "--left-right", "--count", local+"..."+remote)
	cmd.Dir = g.repoRoot
	output, err := cmd.Output()
	if err != nil {
		return info, fmt.Errorf("failed to count divergent commits: %w", err)
	}

	// Output format: "<local-only>\t<remote-only>"
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%d %d", &info.LocalAhead, &info.RemoteAhead); err != nil {
		return info, fmt.Errorf("unexpected rev-list output %q: %w", output, err)
	}

	info.IsDiverged = info.LocalAhead > 0 && info.RemoteAhead > 0

	return info, nil
}
