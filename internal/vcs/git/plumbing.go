package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// CommitInfo is the authorship and message of a commit, kept when a
// commit is replayed onto a new parent.
type CommitInfo struct {
	Hash        string
	AuthorName  string
	AuthorEmail string
	AuthorDate  string
	Message     string
}

// Index is a private git index file. Changes staged in it never touch the
// repository's own index or working tree, which lets the rebase engine
// build trees and throw them away on abort.
type Index struct {
	g    *Git
	path string
}

// NewIndex creates a temporary index populated from treeish.
// The caller must Close it.
func (g *Git) NewIndex(ctx context.Context, treeish string) (*Index, error) {
	f, err := os.CreateTemp(g.vcsDir, "o324-index-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary index: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	// git refuses to read an empty file as an index
	_ = os.Remove(path)

	ix := &Index{g: g, path: path}
	if _, err := g.run(ctx, ix.env(), nil, "read-tree", treeish); err != nil {
		_ = ix.Close()
		return nil, err
	}

	return ix, nil
}

func (ix *Index) env() []string {
	return []string{"GIT_INDEX_FILE=" + ix.path}
}

// Path returns the index file location.
func (ix *Index) Path() string {
	return ix.path
}

// BlobID returns the blob staged at path, or "" when absent.
func (ix *Index) BlobID(ctx context.Context, path string) (string, error) {
	out, err := ix.g.run(ctx, ix.env(), nil, "ls-files", "-s", "--", path)
	if err != nil {
		return "", err
	}

	// Format: "<mode> <sha> <stage>\t<path>"
	line := vcs.TrimOutput(out)
	if line == "" {
		return "", nil
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", fmt.Errorf("unexpected ls-files output %q", line)
	}
	return fields[1], nil
}

// Read returns the content staged at path. ok is false when absent.
func (ix *Index) Read(ctx context.Context, path string) (data []byte, ok bool, err error) {
	id, err := ix.BlobID(ctx, path)
	if err != nil || id == "" {
		return nil, false, err
	}
	data, err = ix.g.CatBlob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Paths lists every staged path.
func (ix *Index) Paths(ctx context.Context) ([]string, error) {
	out, err := ix.g.run(ctx, ix.env(), nil, "ls-files")
	if err != nil {
		return nil, err
	}
	return vcs.ParseLines(out), nil
}

// Write stores content as a blob and stages it at path.
func (ix *Index) Write(ctx context.Context, path string, content []byte) error {
	id, err := ix.g.HashObject(ctx, content)
	if err != nil {
		return err
	}
	return ix.Stage(ctx, path, id)
}

// Stage points path at an existing blob.
func (ix *Index) Stage(ctx context.Context, path, blobID string) error {
	_, err := ix.g.run(ctx, ix.env(), nil,
		"update-index", "--add", "--cacheinfo", "100644,"+blobID+","+path)
	return err
}

// Remove unstages path. Removing an absent path is a no-op.
func (ix *Index) Remove(ctx context.Context, path string) error {
	_, err := ix.g.run(ctx, ix.env(), nil, "update-index", "--force-remove", "--", path)
	return err
}

// WriteTree writes the index as a tree object and returns its id.
func (ix *Index) WriteTree(ctx context.Context) (string, error) {
	out, err := ix.g.run(ctx, ix.env(), nil, "write-tree")
	if err != nil {
		return "", err
	}
	return vcs.TrimOutput(out), nil
}

// Close deletes the index file.
func (ix *Index) Close() error {
	if err := os.Remove(ix.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary index: %w", err)
	}
	_ = os.Remove(ix.path + ".lock")
	return nil
}

// HashObject writes data to the object database as a blob.
func (g *Git) HashObject(ctx context.Context, data []byte) (string, error) {
	if data == nil {
		data = []byte{}
	}
	out, err := g.run(ctx, nil, data, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	return vcs.TrimOutput(out), nil
}

// CatBlob reads a blob's content.
func (g *Git) CatBlob(ctx context.Context, id string) ([]byte, error) {
	return g.run(ctx, nil, nil, "cat-file", "blob", id)
}

// BlobAt returns the blob id of path in rev, or "" when absent.
func (g *Git) BlobAt(ctx context.Context, rev, path string) (string, error) {
	out, err := g.run(ctx, nil, nil, "ls-tree", rev, "--", path)
	if err != nil {
		return "", err
	}

	// Format: "<mode> <type> <sha>\t<path>"
	line := vcs.TrimOutput(out)
	if line == "" {
		return "", nil
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected ls-tree output %q", line)
	}
	return fields[2], nil
}

// TreeOf returns the tree id of a commit.
func (g *Git) TreeOf(ctx context.Context, commit string) (string, error) {
	out, err := g.run(ctx, nil, nil, "rev-parse", "--verify", commit+"^{tree}")
	if err != nil {
		return "", err
	}
	return vcs.TrimOutput(out), nil
}

// FirstParent returns the first parent of commit, or "" for a root commit.
func (g *Git) FirstParent(ctx context.Context, commit string) (string, error) {
	out, err := g.run(ctx, nil, nil, "rev-list", "--parents", "-n", "1", commit)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(vcs.TrimOutput(out))
	if len(fields) < 2 {
		return "", nil
	}
	return fields[1], nil
}

// RevList returns the commits reachable from head but not from exclude,
// oldest first.
func (g *Git) RevList(ctx context.Context, exclude, head string) ([]string, error) {
	out, err := g.run(ctx, nil, nil, "rev-list", "--reverse", "--topo-order", head, "^"+exclude)
	if err != nil {
		return nil, err
	}
	return vcs.ParseLines(out), nil
}

// ChangedPaths lists the paths that differ between parent and commit.
// An empty parent compares against the empty tree.
func (g *Git) ChangedPaths(ctx context.Context, parent, commit string) ([]string, error) {
	args := []string{"diff-tree", "-r", "--no-renames", "--no-commit-id", "--name-only"}
	if parent == "" {
		args = append(args, "--root", commit)
	} else {
		args = append(args, parent, commit)
	}

	out, err := g.run(ctx, nil, nil, args...)
	if err != nil {
		return nil, err
	}
	return vcs.ParseLines(out), nil
}

// ReadCommit returns a commit's authorship and message.
func (g *Git) ReadCommit(ctx context.Context, commit string) (CommitInfo, error) {
	out, err := g.run(ctx, nil, nil, "log", "-1", "--format=%H%x00%an%x00%ae%x00%aI%x00%B", commit)
	if err != nil {
		return CommitInfo{}, err
	}

	parts := strings.SplitN(string(out), "\x00", 5)
	if len(parts) != 5 {
		return CommitInfo{}, fmt.Errorf("unexpected log output for %s", commit)
	}

	return CommitInfo{
		Hash:        parts[0],
		AuthorName:  parts[1],
		AuthorEmail: parts[2],
		AuthorDate:  parts[3],
		Message:     strings.TrimRight(parts[4], "\n"),
	}, nil
}

// CommitTree creates a commit object for tree on top of parent, keeping
// the authorship in info. It does not move any ref.
func (g *Git) CommitTree(ctx context.Context, tree, parent string, info CommitInfo) (string, error) {
	var env []string
	if info.AuthorName != "" {
		env = append(env,
			"GIT_AUTHOR_NAME="+info.AuthorName,
			"GIT_AUTHOR_EMAIL="+info.AuthorEmail,
			"GIT_AUTHOR_DATE="+info.AuthorDate,
		)
	}

	args := []string{"commit-tree", tree}
	if parent != "" {
		args = append(args, "-p", parent)
	}

	message := info.Message
	if message == "" {
		message = "o324: replayed change"
	}

	out, err := g.run(ctx, env, []byte(message+"\n"), args...)
	if err != nil {
		return "", err
	}
	return vcs.TrimOutput(out), nil
}

// MergeFile performs a three-way merge of file contents. clean is false
// when the result contains conflict markers. A nil side is treated as an
// empty file.
func (g *Git) MergeFile(ctx context.Context, base, local, remote []byte) (merged []byte, clean bool, err error) {
	paths := make([]string, 0, 3)
	defer func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}()

	for _, content := range [][]byte{local, base, remote} {
		f, err := os.CreateTemp(g.vcsDir, "o324-merge-*")
		if err != nil {
			return nil, false, fmt.Errorf("failed to create merge file: %w", err)
		}
		paths = append(paths, f.Name())
		_, werr := f.Write(content)
		cerr := f.Close()
		if werr != nil {
			return nil, false, fmt.Errorf("failed to write merge file: %w", werr)
		}
		if cerr != nil {
			return nil, false, fmt.Errorf("failed to write merge file: %w", cerr)
		}
	}

	out, err := vcs.Run(ctx, vcs.ExecOptions{Dir: g.repoRoot}, "git", "merge-file", "-p",
		"-L", "local", "-L", "base", "-L", "remote", paths[0], paths[1], paths[2])
	if err == nil {
		return out, true, nil
	}

	// merge-file exits with the number of conflicts, or a negative
	// (>127 once truncated) value on error
	if code := vcs.GetExitCode(err); code > 0 && code < 128 {
		return out, false, nil
	}
	return nil, false, fmt.Errorf("git merge-file failed: %w", err)
}

// ResetHard moves the current branch, index, and working tree to commit.
func (g *Git) ResetHard(ctx context.Context, commit string) error {
	_, err := g.run(ctx, nil, nil, "reset", "-q", "--hard", commit)
	return err
}
