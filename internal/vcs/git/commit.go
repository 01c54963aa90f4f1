package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// HasChanges returns true if there are uncommitted changes
// If paths are specified, only checks those paths
func (g *Git) HasChanges(paths ...string) (bool, error) {
	args := []string{"status", "--porcelain", "--untracked-files=all"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Add stages files for commit. Deleted paths are staged as removals.
func (g *Git) Add(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{"add", "-A", "--"}, paths...)
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git add failed: %w\n%s", err, string(output))
	}

	return nil
}

// Commit creates a commit with the specified options
func (g *Git) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if opts.Message == "" {
		return fmt.Errorf("commit message is required")
	}

	// Stage files if paths specified
	if len(opts.Paths) > 0 {
		if err := g.Add(opts.Paths); err != nil {
			return err
		}
	}

	args := []string{"commit", "-q", "-m", opts.Message}

	if opts.NoGPGSign {
		args = append(args, "--no-gpg-sign")
	}

	if opts.NoVerify {
		args = append(args, "--no-verify")
	}

	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}

	// Add paths with -- to ensure they're treated as paths
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git commit failed: %w\n%s", err, string(output))
	}

	return nil
}

// RestorePaths puts the given paths back to their HEAD state in both the
// index and the working tree. Paths absent from HEAD are deleted.
func (g *Git) RestorePaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	var tracked []string
	for _, p := range paths {
		cmd := exec.Command("git", "cat-file", "-e", "HEAD:"+p)
		cmd.Dir = g.repoRoot
		if cmd.Run() == nil {
			tracked = append(tracked, p)
			continue
		}

		// Untracked at HEAD: drop from the index and the disk
		rm := exec.Command("git", "rm", "-q", "--cached", "--ignore-unmatch", "--", p)
		rm.Dir = g.repoRoot
		_ = rm.Run()
		if err := os.Remove(filepath.Join(g.repoRoot, p)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	if len(tracked) == 0 {
		return nil
	}

	args := append([]string{"checkout", "-q", "HEAD", "--"}, tracked...)
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git checkout failed: %w\n%s", err, string(output))
	}

	return nil
}
