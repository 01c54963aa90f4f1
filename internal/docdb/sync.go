package docdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/o324/o324/internal/vcs"
	"github.com/o324/o324/internal/vcs/git"
)

// SyncState is a phase of a sync.
type SyncState int

const (
	StateIdle SyncState = iota
	StateFetching
	StateRebasing
	StateFinalizing
	StateAborting
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateRebasing:
		return "rebasing"
	case StateFinalizing:
		return "finalizing"
	case StateAborting:
		return "aborting"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// Conflict is a document both sides changed in ways a line merge could
// not reconcile. Nil content means the document is absent on that side.
type Conflict struct {
	Key      string
	Previous []byte
	Local    []byte
	Remote   []byte
}

// SyncEditor gives a resolver access to the tree being built.
type SyncEditor interface {
	ReadWriter

	// Decode parses raw document content, such as a Conflict side.
	Decode(data []byte, v any) error
}

// Resolver is called after each replayed commit with the conflicts that
// commit produced. It may edit documents through ed and remove resolved
// entries from conflicts; whatever is left is reported.
type Resolver func(ed SyncEditor, conflicts *[]Conflict) error

// SyncReport describes a finished sync.
type SyncReport struct {
	// States is the sequence of states the sync went through
	States []SyncState

	// UpToDate is true when no local change was needed
	UpToDate bool

	// FastForward is true when local history was moved to the remote's
	FastForward bool

	// Replayed and Skipped count local commits rewritten onto the remote
	// and dropped because they no longer changed anything
	Replayed int
	Skipped  int

	// Head is the commit the branch points to after the sync
	Head string

	// Changed lists document keys whose content changed locally
	Changed []string

	// Conflicts left unresolved by the resolver. Their remote versions
	// were kept.
	Conflicts []Conflict
}

func (r *SyncReport) enter(s SyncState) {
	r.States = append(r.States, s)
}

// Sync fetches the remote branch and rebases local commits onto it.
//
// The store lock is held throughout, so no transaction can commit while
// history is rewritten. All replay work happens in a private index; the
// branch and working tree move in a single reset at the end, or not at
// all when the sync aborts.
func (c *GitConnection) Sync(ctx context.Context, resolve Resolver) (*SyncReport, error) {
	report := &SyncReport{}
	report.enter(StateIdle)

	if !c.repo.HasRemote() {
		return report, fmt.Errorf("failed to sync: %w", vcs.ErrNoRemote)
	}

	if err := c.lock.TryAcquire(); err != nil {
		return report, err
	}
	defer func() {
		if err := c.lock.Release(); err != nil {
			c.config.Logger.Printf("Warning: failed to release lock after sync: %v", err)
		}
	}()

	report.enter(StateFetching)
	err := c.repo.Fetch(ctx, c.config.Remote, c.config.Branch)
	if errors.Is(err, vcs.ErrRefNotFound) {
		// Remote branch does not exist yet; nothing to rebase on
		report.UpToDate = true
		report.Head, _ = c.repo.GetCommitHash("HEAD")
		report.enter(StateIdle)
		return report, nil
	}
	if err != nil {
		report.enter(StateIdle)
		return report, fmt.Errorf("failed to fetch: %w", err)
	}

	local, err := c.repo.GetCommitHash("HEAD")
	if err != nil {
		report.enter(StateIdle)
		return report, err
	}
	remote, err := c.repo.GetCommitHash(c.remoteRef())
	if err != nil {
		report.enter(StateIdle)
		return report, err
	}

	report.enter(StateRebasing)
	newHead, err := c.rebase(ctx, local, remote, resolve, report)
	if err != nil {
		report.enter(StateAborting)
		report.enter(StateIdle)
		report.Conflicts = nil
		c.config.Logger.Printf("Sync aborted: %v", err)
		return report, err
	}

	if newHead == local {
		report.UpToDate = true
		report.Head = local
		report.enter(StateIdle)
		return report, nil
	}

	report.enter(StateFinalizing)
	if err := ctx.Err(); err != nil {
		report.enter(StateAborting)
		report.enter(StateIdle)
		return report, err
	}

	changed, err := c.repo.ChangedPaths(ctx, local, newHead)
	if err != nil {
		report.enter(StateAborting)
		report.enter(StateIdle)
		return report, err
	}

	if err := c.repo.ResetHard(ctx, newHead); err != nil {
		report.enter(StateAborting)
		report.enter(StateIdle)
		return report, fmt.Errorf("failed to move branch to rebased head: %w", err)
	}

	report.Head = newHead
	report.Changed = c.keysOf(changed)
	report.enter(StateIdle)

	c.config.Logger.Printf("Synced to %s (replayed %d, skipped %d, %d conflict(s))",
		shortHash(newHead), report.Replayed, report.Skipped, len(report.Conflicts))

	return report, nil
}

func (c *GitConnection) remoteRef() string {
	return "refs/remotes/" + c.config.Remote + "/" + c.config.Branch
}

// rebase computes the new head for local on top of remote.
func (c *GitConnection) rebase(ctx context.Context, local, remote string, resolve Resolver, report *SyncReport) (string, error) {
	if local == remote {
		return local, nil
	}

	div, err := c.repo.HasDivergence(local, remote)
	if err != nil {
		return "", err
	}
	if !div.IsDiverged {
		if div.LocalAhead > 0 {
			// Remote is already contained in local history
			return local, nil
		}
		report.FastForward = true
		return remote, nil
	}

	commits, err := c.repo.RevList(ctx, remote, local)
	if err != nil {
		return "", err
	}

	ix, err := c.repo.NewIndex(ctx, remote)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := ix.Close(); err != nil {
			c.config.Logger.Printf("Warning: %v", err)
		}
	}()

	head := remote
	for _, commit := range commits {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		next, err := c.replay(ctx, ix, commit, head, resolve, report)
		if err != nil {
			return "", fmt.Errorf("failed to replay %s: %w", shortHash(commit), err)
		}
		head = next
	}

	if head == remote {
		report.FastForward = true
	}
	return head, nil
}

// replay applies one local commit onto head inside ix and returns the
// rewritten commit, or head itself when the commit became empty.
func (c *GitConnection) replay(ctx context.Context, ix *git.Index, commit, head string, resolve Resolver, report *SyncReport) (string, error) {
	parent, err := c.repo.FirstParent(ctx, commit)
	if err != nil {
		return "", err
	}
	paths, err := c.repo.ChangedPaths(ctx, parent, commit)
	if err != nil {
		return "", err
	}

	var conflicts []Conflict
	for _, path := range paths {
		conflict, err := c.mergePath(ctx, ix, parent, commit, path)
		if err != nil {
			return "", fmt.Errorf("failed to merge %s: %w", path, err)
		}
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	if resolve != nil {
		ed := &indexEditor{ctx: ctx, ix: ix, conn: c}
		if err := resolve(ed, &conflicts); err != nil {
			return "", fmt.Errorf("resolver failed: %w", err)
		}
	}
	report.Conflicts = append(report.Conflicts, conflicts...)

	tree, err := ix.WriteTree(ctx)
	if err != nil {
		return "", err
	}
	headTree, err := c.repo.TreeOf(ctx, head)
	if err != nil {
		return "", err
	}
	if tree == headTree {
		report.Skipped++
		return head, nil
	}

	info, err := c.repo.ReadCommit(ctx, commit)
	if err != nil {
		return "", err
	}
	next, err := c.repo.CommitTree(ctx, tree, head, info)
	if err != nil {
		return "", err
	}
	report.Replayed++
	return next, nil
}

// mergePath folds the change commit made to path into the index. It
// returns a Conflict when the change could not be merged; the index then
// keeps the remote version.
func (c *GitConnection) mergePath(ctx context.Context, ix *git.Index, parent, commit, path string) (*Conflict, error) {
	var baseID string
	if parent != "" {
		id, err := c.repo.BlobAt(ctx, parent, path)
		if err != nil {
			return nil, err
		}
		baseID = id
	}
	localID, err := c.repo.BlobAt(ctx, commit, path)
	if err != nil {
		return nil, err
	}
	remoteID, err := ix.BlobID(ctx, path)
	if err != nil {
		return nil, err
	}

	switch {
	case remoteID == baseID:
		// Untouched remotely: take the local side, deletions included
		if localID == "" {
			return nil, ix.Remove(ctx, path)
		}
		return nil, ix.Stage(ctx, path, localID)
	case localID == remoteID:
		return nil, nil
	}

	base, err := c.blob(ctx, baseID)
	if err != nil {
		return nil, err
	}
	localData, err := c.blob(ctx, localID)
	if err != nil {
		return nil, err
	}
	remoteData, err := c.blob(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	conflict := &Conflict{
		Key:      c.keyOf(path),
		Previous: base,
		Local:    localData,
		Remote:   remoteData,
	}

	// A deletion against a modification has no line-level answer
	if localID == "" || remoteID == "" {
		return conflict, nil
	}

	merged, clean, err := c.repo.MergeFile(ctx, base, localData, remoteData)
	if err != nil {
		return nil, err
	}
	if !clean || (c.isDocument(path) && !wellFormed(c.format, merged)) {
		return conflict, nil
	}
	return nil, ix.Write(ctx, path, merged)
}

func (c *GitConnection) blob(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, nil
	}
	return c.repo.CatBlob(ctx, id)
}

func (c *GitConnection) isDocument(path string) bool {
	return !strings.Contains(path, "/") && strings.HasSuffix(path, c.format.Extension())
}

func (c *GitConnection) keyOf(path string) string {
	if c.isDocument(path) {
		return strings.TrimSuffix(path, c.format.Extension())
	}
	return path
}

func (c *GitConnection) keysOf(paths []string) []string {
	var keys []string
	for _, p := range paths {
		if c.isDocument(p) {
			keys = append(keys, c.keyOf(p))
		}
	}
	sort.Strings(keys)
	return keys
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// indexEditor exposes the in-progress index to a resolver.
type indexEditor struct {
	ctx  context.Context
	ix   *git.Index
	conn *GitConnection
}

func (e *indexEditor) Read(key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, ok, err := e.ix.Read(e.ctx, e.conn.Path(key))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return decode(e.conn.format, key, data, v)
}

func (e *indexEditor) Keys() ([]string, error) {
	paths, err := e.ix.Paths(e.ctx)
	if err != nil {
		return nil, err
	}
	return e.conn.keysOf(paths), nil
}

func (e *indexEditor) Write(key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, err := e.conn.format.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return e.ix.Write(e.ctx, e.conn.Path(key), data)
}

func (e *indexEditor) Remove(key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return e.ix.Remove(e.ctx, e.conn.Path(key))
}

func (e *indexEditor) Decode(data []byte, v any) error {
	return Decode(e.conn.format, data, v)
}
