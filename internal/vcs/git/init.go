package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// Default identity used when neither the repository nor the user's global
// configuration provides one. Commits need an author.
const (
	defaultUserName  = "o324"
	defaultUserEmail = "o324@localhost"
)

// Init creates a repository at path on the default branch and returns it.
//
// When remoteURL is set, it is registered as origin and, if the remote
// already has the default branch, the new repository starts from it.
// Otherwise an empty root commit is created so HEAD always resolves.
//
// Init on an existing repository only updates the remote.
//
// Example:
//
//	repo, err := git.Init(ctx, "~/.local/share/o324/store", "git@example.com:me/tasks.git")
func Init(ctx context.Context, path, remoteURL string) (*Git, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	if g, err := New(path); err == nil {
		if remoteURL != "" {
			if err := g.SetRemote(vcs.DefaultRemote, remoteURL); err != nil {
				return nil, err
			}
		}
		return g, nil
	}

	cmd := exec.CommandContext(ctx, "git", "init", "-q", "-b", vcs.DefaultBranch)
	cmd.Dir = path
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git init failed: %w\n%s", err, string(output))
	}

	g, err := New(path)
	if err != nil {
		return nil, err
	}

	if err := g.ensureIdentity(); err != nil {
		return nil, err
	}

	if remoteURL != "" {
		if err := g.SetRemote(vcs.DefaultRemote, remoteURL); err != nil {
			return nil, err
		}

		err := g.Fetch(ctx, vcs.DefaultRemote, vcs.DefaultBranch)
		switch {
		case err == nil:
			remoteRef := "refs/remotes/" + vcs.DefaultRemote + "/" + vcs.DefaultBranch
			if _, err := g.run(ctx, nil, nil, "reset", "-q", "--hard", remoteRef); err != nil {
				return nil, err
			}
			return g, nil
		case errors.Is(err, vcs.ErrRefNotFound):
			// Empty remote; fall through to a fresh root commit
		default:
			return nil, err
		}
	}

	if err := g.Commit(ctx, vcs.CommitOptions{
		Message:    "o324: initialize store",
		AllowEmpty: true,
		NoVerify:   true,
	}); err != nil {
		return nil, err
	}

	return g, nil
}

// ensureIdentity sets a repository-local author when git has none.
func (g *Git) ensureIdentity() error {
	for key, value := range map[string]string{
		"user.name":  defaultUserName,
		"user.email": defaultUserEmail,
	} {
		cmd := exec.Command("git", "config", "--get", key)
		cmd.Dir = g.repoRoot
		out, err := cmd.Output()
		if err == nil && strings.TrimSpace(string(out)) != "" {
			continue
		}

		set := exec.Command("git", "config", key, value)
		set.Dir = g.repoRoot
		if output, err := set.CombinedOutput(); err != nil {
			return fmt.Errorf("git config %s failed: %w\n%s", key, err, string(output))
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
