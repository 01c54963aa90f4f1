package git

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Use git rev-parse to get all info in one call
	cmd := exec.Command("git", "rev-parse", "--absolute-git-dir", "--show-toplevel")
	cmd.Dir = absPath

	output, err := cmd.Output()
	if err != nil {
		return vcs.ErrNotInVCS
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	g.vcsDir = normalizeRepoRoot(strings.TrimSpace(lines[0]))
	g.repoRoot = normalizeRepoRoot(strings.TrimSpace(lines[1]))

	return nil
}

// normalizeRepoRoot normalizes the repository root path
// Resolves symlinks so paths compare equal across /tmp style aliases
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}

// HasRemote returns true if any remote is configured
func (g *Git) HasRemote() bool {
	cmd := exec.Command("git", "remote")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// GetRemotes returns information about configured remotes
func (g *Git) GetRemotes() ([]vcs.RemoteInfo, error) {
	cmd := exec.Command("git", "remote", "-v")
	cmd.Dir = g.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git remote -v failed: %w", err)
	}

	// Parse output: "origin url (fetch)"
	remotes := make(map[string]string) // name -> url
	var order []string

	for _, line := range vcs.ParseLines(output) {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		name := parts[0]
		if _, exists := remotes[name]; !exists {
			order = append(order, name)
		}

		// Only record fetch URLs (skip push duplicates)
		if len(parts) >= 3 && strings.Contains(parts[2], "fetch") {
			remotes[name] = parts[1]
		} else if _, exists := remotes[name]; !exists {
			remotes[name] = parts[1]
		}
	}

	result := make([]vcs.RemoteInfo, 0, len(order))
	for _, name := range order {
		result = append(result, vcs.RemoteInfo{Name: name, URL: remotes[name]})
	}

	return result, nil
}

// SetRemote points the named remote at url, adding it if missing.
func (g *Git) SetRemote(name, url string) error {
	if name == "" {
		name = vcs.DefaultRemote
	}

	args := []string{"remote", "add", name, url}
	for _, r := range mustRemotes(g) {
		if r.Name == name {
			args = []string{"remote", "set-url", name, url}
			break
		}
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git remote failed: %w\n%s", err, string(output))
	}

	return nil
}

func mustRemotes(g *Git) []vcs.RemoteInfo {
	remotes, _ := g.GetRemotes()
	return remotes
}

// IsInRebaseOrMerge returns true if a porcelain rebase or merge was left
// behind by an external git command. The store refuses to commit on top
// of one.
func (g *Git) IsInRebaseOrMerge() bool {
	for _, name := range []string{"rebase-merge", "rebase-apply", "MERGE_HEAD"} {
		if fileExists(filepath.Join(g.vcsDir, name)) {
			return true
		}
	}
	return false
}
