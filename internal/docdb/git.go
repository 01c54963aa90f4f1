package docdb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/o324/o324/internal/lock"
	"github.com/o324/o324/internal/vcs"
	"github.com/o324/o324/internal/vcs/git"
)

// GitConnection is a Store backed by a git working tree. Documents live
// at the repository root.
type GitConnection struct {
	repo   *git.Git
	root   string
	lock   *lock.SystemLock
	format Parser
	config *Config
}

var _ Store = (*GitConnection)(nil)

// Open connects to an existing repository at path.
func Open(path string, parser Parser, config *Config) (*GitConnection, error) {
	repo, err := git.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	return newGitConnection(repo, parser, config)
}

// Init creates the repository at path if needed and connects to it. When
// remote is set and already has history, the store starts from it.
func Init(ctx context.Context, path, remote string, parser Parser, config *Config) (*GitConnection, error) {
	repo, err := git.Init(ctx, path, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store at %s: %w", path, err)
	}
	return newGitConnection(repo, parser, config)
}

func newGitConnection(repo *git.Git, parser Parser, config *Config) (*GitConnection, error) {
	if parser == nil {
		return nil, fmt.Errorf("parser cannot be nil")
	}

	root, err := repo.RepoRoot()
	if err != nil {
		return nil, err
	}
	gitDir, err := repo.VCSDir()
	if err != nil {
		return nil, err
	}

	config = config.withDefaults()
	branch, err := repo.CurrentRef()
	if err != nil {
		return nil, err
	}
	switch branch {
	case config.Branch:
	case "":
		return nil, fmt.Errorf("store at %s: %w", root, vcs.ErrDetached)
	default:
		return nil, fmt.Errorf("store at %s is on branch %q, want %q", root, branch, config.Branch)
	}

	return &GitConnection{
		repo:   repo,
		root:   root,
		lock:   lock.New(filepath.Join(gitDir, lock.FileName)),
		format: parser,
		config: config,
	}, nil
}

// Repo returns the underlying repository.
func (c *GitConnection) Repo() *git.Git {
	return c.repo
}

// Root returns the directory holding the documents.
func (c *GitConnection) Root() string {
	return c.root
}

// Lock returns the store's write lock.
func (c *GitConnection) Lock() *lock.SystemLock {
	return c.lock
}

// Path returns the file a document key is stored in, relative to Root.
func (c *GitConnection) Path(key string) string {
	return key + c.format.Extension()
}

func (c *GitConnection) Parser() Parser {
	return c.format
}

func (c *GitConnection) Begin() (Tx, error) {
	if err := c.lock.TryAcquire(); err != nil {
		return nil, err
	}
	return newTx(c), nil
}

func (c *GitConnection) View(fn func(Reader) error) error {
	return fn(reader{b: c})
}

func (c *GitConnection) Push(ctx context.Context) error {
	err := c.repo.Push(ctx, vcs.PushOptions{Remote: c.config.Remote, Ref: c.config.Branch})
	if err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// Close releases the lock if a sync or transaction of this connection
// still holds it.
func (c *GitConnection) Close() error {
	return c.lock.Release()
}

func (c *GitConnection) parser() Parser {
	return c.format
}

func (c *GitConnection) logger() *log.Logger {
	return c.config.Logger
}

func (c *GitConnection) load(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(c.root, c.Path(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, true, nil
}

// committed reads key from HEAD, so a file left behind in the working
// tree by an interrupted write is not mistaken for committed state.
func (c *GitConnection) committed(key string) ([]byte, bool, error) {
	ctx := context.Background()
	blob, err := c.repo.BlobAt(ctx, "HEAD", c.Path(key))
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %q in HEAD: %w", key, err)
	}
	if blob == "" {
		return nil, false, nil
	}
	data, err := c.repo.CatBlob(ctx, blob)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q from HEAD: %w", key, err)
	}
	return data, true, nil
}

func (c *GitConnection) list() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	ext := c.format.Extension()
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	return keys, nil
}

// apply writes the changed files and commits them. On failure the paths
// are restored to HEAD so the working tree matches the last commit.
func (c *GitConnection) apply(changes []change) error {
	paths := make([]string, 0, len(changes))
	keys := make([]string, 0, len(changes))
	for _, ch := range changes {
		paths = append(paths, c.Path(ch.key))
		keys = append(keys, ch.key)
	}

	err := c.writeAndCommit(changes, paths, keys)
	if err == nil {
		return nil
	}

	if rerr := c.repo.RestorePaths(paths); rerr != nil {
		c.config.Logger.Printf("Warning: failed to restore %s after failed commit: %v",
			strings.Join(paths, ", "), rerr)
	}
	return err
}

func (c *GitConnection) writeAndCommit(changes []change, paths, keys []string) error {
	if c.repo.IsInRebaseOrMerge() {
		return fmt.Errorf("%w in %s", ErrInterrupted, c.root)
	}
	for _, ch := range changes {
		full := filepath.Join(c.root, c.Path(ch.key))
		if ch.remove {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %q: %w", ch.key, err)
			}
			continue
		}
		if err := writeFileAtomic(full, ch.data); err != nil {
			return fmt.Errorf("failed to write %q: %w", ch.key, err)
		}
	}

	dirty, err := c.repo.HasChanges(paths...)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	return c.repo.Commit(context.Background(), vcs.CommitOptions{
		Message:   "o324: update " + strings.Join(keys, ", "),
		Paths:     paths,
		NoVerify:  true,
		NoGPGSign: true,
	})
}

func (c *GitConnection) unlock() error {
	return c.lock.Release()
}

// writeFileAtomic replaces path with data so lock-free readers never see
// a partial document.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".o324-write-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
