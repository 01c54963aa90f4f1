package docdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o324/o324/internal/vcs"
)

// setupRemote creates an empty bare repository to act as origin.
func setupRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitOutput(t, dir, "init", "-q", "--bare", "-b", "main")
	return dir
}

// setupClones returns two stores sharing origin's history.
func setupClones(t *testing.T) (a, b *GitConnection) {
	t.Helper()
	ctx := context.Background()
	origin := setupRemote(t)

	a, err := Init(ctx, t.TempDir(), origin, JSONParser{}, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Push(ctx))

	b, err = Init(ctx, t.TempDir(), origin, JSONParser{}, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.Equal(t, gitOutput(t, a.Root(), "rev-parse", "HEAD"), gitOutput(t, b.Root(), "rev-parse", "HEAD"))
	return a, b
}

func write(t *testing.T, s Store, key, text string) {
	t.Helper()
	require.NoError(t, Update(s, func(rw ReadWriter) error {
		return rw.Write(key, note{Text: text})
	}))
}

func read(t *testing.T, s Store, key string) string {
	t.Helper()
	var n note
	require.NoError(t, s.View(func(r Reader) error { return r.Read(key, &n) }))
	return n.Text
}

func TestSyncWithoutRemote(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Sync(context.Background(), nil)
	assert.True(t, errors.Is(err, vcs.ErrNoRemote))
}

func TestSyncEmptyRemote(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping git sync test in short mode")
	}
	s, err := Init(context.Background(), t.TempDir(), setupRemote(t), JSONParser{}, testConfig())
	require.NoError(t, err)
	defer s.Close()

	report, err := s.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.UpToDate)
	assert.Equal(t, []SyncState{StateIdle, StateFetching, StateIdle}, report.States)
}

func TestSyncFastForward(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "2024-01-02", "from a")
	require.NoError(t, a.Push(ctx))

	report, err := b.Sync(ctx, nil)
	require.NoError(t, err)
	assert.True(t, report.FastForward)
	assert.Equal(t, []string{"2024-01-02"}, report.Changed)
	assert.Equal(t, "from a", read(t, b, "2024-01-02"))
	assert.Equal(t, gitOutput(t, a.Root(), "rev-parse", "HEAD"), report.Head)
	assert.Equal(t,
		[]SyncState{StateIdle, StateFetching, StateRebasing, StateFinalizing, StateIdle},
		report.States)
}

func TestSyncLocalAhead(t *testing.T) {
	a, _ := setupClones(t)
	write(t, a, "doc", "local only")

	report, err := a.Sync(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.UpToDate)
	assert.Equal(t, "local only", read(t, a, "doc"))
}

func TestSyncRebasesDisjointChanges(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "left", "a")
	require.NoError(t, a.Push(ctx))

	write(t, b, "right", "b")
	report, err := b.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Replayed)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, []string{"left"}, report.Changed)
	assert.Equal(t, "a", read(t, b, "left"))
	assert.Equal(t, "b", read(t, b, "right"))

	// Rebased history sits on top of origin, so the push fast-forwards
	require.NoError(t, b.Push(ctx))

	parent := gitOutput(t, b.Root(), "rev-parse", "HEAD~1")
	assert.Equal(t, gitOutput(t, a.Root(), "rev-parse", "HEAD"), parent)
	assert.Equal(t, "o324: update right", gitOutput(t, b.Root(), "log", "-1", "--format=%s"))
}

func TestSyncConflictKeepsRemote(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "doc", "base")
	require.NoError(t, a.Push(ctx))
	_, err := b.Sync(ctx, nil)
	require.NoError(t, err)

	write(t, a, "doc", "remote")
	require.NoError(t, a.Push(ctx))
	write(t, b, "doc", "local")

	report, err := b.Sync(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)

	c := report.Conflicts[0]
	assert.Equal(t, "doc", c.Key)
	assert.Contains(t, string(c.Previous), "base")
	assert.Contains(t, string(c.Local), "local")
	assert.Contains(t, string(c.Remote), "remote")

	assert.Equal(t, "remote", read(t, b, "doc"))
	assert.Equal(t, 0, report.Replayed)
	assert.Equal(t, 1, report.Skipped)
}

func TestSyncResolverEditsTree(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "doc", "remote")
	require.NoError(t, a.Push(ctx))
	write(t, b, "doc", "local")

	var seen []string
	resolve := func(ed SyncEditor, conflicts *[]Conflict) error {
		for _, c := range *conflicts {
			var local, remote note
			require.NoError(t, ed.Decode(c.Local, &local))
			require.NoError(t, ed.Decode(c.Remote, &remote))
			seen = append(seen, c.Key)
			if err := ed.Write(c.Key, note{Text: remote.Text + "+" + local.Text}); err != nil {
				return err
			}
		}
		*conflicts = (*conflicts)[:0]
		return nil
	}

	report, err := b.Sync(ctx, resolve)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, seen)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, "remote+local", read(t, b, "doc"))
	assert.Equal(t, 1, report.Replayed)
}

func TestSyncDeleteAgainstModifyConflicts(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "doc", "base")
	require.NoError(t, a.Push(ctx))
	_, err := b.Sync(ctx, nil)
	require.NoError(t, err)

	write(t, a, "doc", "changed")
	require.NoError(t, a.Push(ctx))
	require.NoError(t, Update(b, func(rw ReadWriter) error { return rw.Remove("doc") }))

	report, err := b.Sync(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	assert.Nil(t, report.Conflicts[0].Local)
	assert.Equal(t, "changed", read(t, b, "doc"))
}

func TestSyncAbortsOnResolverError(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "doc", "remote")
	require.NoError(t, a.Push(ctx))
	write(t, b, "doc", "local")
	head := gitOutput(t, b.Root(), "rev-parse", "HEAD")

	boom := errors.New("boom")
	report, err := b.Sync(ctx, func(SyncEditor, *[]Conflict) error { return boom })
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, report.States, StateAborting)
	assert.Equal(t, StateIdle, report.States[len(report.States)-1])

	assert.Equal(t, head, gitOutput(t, b.Root(), "rev-parse", "HEAD"))
	assert.Equal(t, "local", read(t, b, "doc"))
	assert.False(t, b.Lock().Held())
	assert.Empty(t, gitOutput(t, b.Root(), "status", "--porcelain"))
}

func TestSyncAbortsOnCancel(t *testing.T) {
	a, b := setupClones(t)

	write(t, a, "left", "a")
	require.NoError(t, a.Push(context.Background()))
	write(t, b, "right", "b")
	head := gitOutput(t, b.Root(), "rev-parse", "HEAD")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Sync(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, head, gitOutput(t, b.Root(), "rev-parse", "HEAD"))
	assert.False(t, b.Lock().Held())
}

func TestSyncWhileTxOpenIsLocked(t *testing.T) {
	_, b := setupClones(t)

	tx, err := b.Begin()
	require.NoError(t, err)
	defer tx.Discard()

	_, err = b.Sync(context.Background(), nil)
	assert.True(t, IsLocked(err))
}

func TestPushRejectedWhenBehind(t *testing.T) {
	ctx := context.Background()
	a, b := setupClones(t)

	write(t, a, "left", "a")
	require.NoError(t, a.Push(ctx))
	write(t, b, "right", "b")

	err := b.Push(ctx)
	assert.True(t, errors.Is(err, vcs.ErrPushRejected))
}

func TestSyncStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "rebasing", StateRebasing.String())
	assert.Equal(t, "finalizing", StateFinalizing.String())
	assert.Equal(t, "aborting", StateAborting.String())
	assert.Equal(t, "SyncState(9)", SyncState(9).String())
}
