package prefix

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(store NodeStore) *Cache {
	if store == nil {
		store = NewMemoryNodeStore()
	}
	return New(&Config{Store: store, Logger: log.New(io.Discard, "", 0)})
}

func insertAll(t *testing.T, c *Cache, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, c.Insert(context.Background(), id))
	}
}

func TestAmbiguousPrefix(t *testing.T) {
	c := newTestCache(nil)
	insertAll(t, c, "abc", "abd", "xyz")

	_, err := c.Resolve("ab")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguous))

	var amb *AmbiguousError
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, "ab", amb.Ref)
	assert.Equal(t, []string{"abc", "abd"}, amb.Candidates)

	id, err := c.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)

	id, err = c.Resolve("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = c.Resolve("q")
	assert.True(t, errors.Is(err, ErrNoMatch))

	_, err = c.Resolve("")
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestShortestUniquePrefix(t *testing.T) {
	c := newTestCache(nil)
	insertAll(t, c, "abc", "abd", "xyz")

	p, err := c.ShortestUniquePrefix("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", p)

	p, err = c.ShortestUniquePrefix("xyz")
	require.NoError(t, err)
	assert.Equal(t, "x", p)

	_, err = c.ShortestUniquePrefix("nope")
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestRemoveCollapsesBranch(t *testing.T) {
	c := newTestCache(nil)
	insertAll(t, c, "abc", "abd")

	n, ok := c.Node("ab")
	require.True(t, ok)
	assert.False(t, n.IsUnique)

	require.NoError(t, c.Remove(context.Background(), "abd"))
	assert.Equal(t, 1, c.Len())

	_, ok = c.Node("abd")
	assert.False(t, ok)

	n, ok = c.Node("ab")
	require.True(t, ok)
	assert.True(t, n.IsUnique)

	id, err := c.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	require.NoError(t, c.Remove(context.Background(), "abc"))
	_, ok = c.Node("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	// Unknown ids are ignored
	require.NoError(t, c.Remove(context.Background(), "abc"))
	require.NoError(t, c.Remove(context.Background(), "a"))
}

func TestInsertIdempotent(t *testing.T) {
	c := newTestCache(nil)
	insertAll(t, c, "abc", "abc")

	assert.Equal(t, 1, c.Len())
	n, ok := c.Node("a")
	require.True(t, ok)
	assert.True(t, n.IsUnique)
}

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func randomIDs(r *rand.Rand, n, length int) []string {
	seen := make(map[string]bool)
	var ids []string
	for len(ids) < n {
		var b strings.Builder
		// Narrow alphabet on the leading characters to force shared prefixes
		for i := 0; i < length; i++ {
			if i < 3 {
				b.WriteByte(crockford[r.Intn(3)])
			} else {
				b.WriteByte(crockford[r.Intn(len(crockford))])
			}
		}
		id := b.String()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// countWithPrefix is the brute-force reference for a node's count.
func countWithPrefix(ids []string, p string) int {
	n := 0
	for _, id := range ids {
		if strings.HasPrefix(id, p) {
			n++
		}
	}
	return n
}

func TestUniqueMatchesCountProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		ids := randomIDs(r, 1+r.Intn(60), 8)
		c := newTestCache(nil)
		insertAll(t, c, ids...)

		// Remove a random third
		r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		cut := len(ids) / 3
		for _, id := range ids[:cut] {
			require.NoError(t, c.Remove(context.Background(), id))
		}
		live := ids[cut:]
		assert.Equal(t, len(live), c.Len())

		for _, id := range ids {
			for i := 1; i <= len(id); i++ {
				p := id[:i]
				want := countWithPrefix(live, p)
				n, ok := c.Node(p)
				if want == 0 {
					assert.False(t, ok, "node %q should be gone", p)
					continue
				}
				require.True(t, ok, "node %q missing", p)
				assert.Equal(t, want == 1, n.IsUnique, "is_unique of %q", p)
			}
		}

		for _, id := range live {
			p, err := c.ShortestUniquePrefix(id)
			require.NoError(t, err)
			got, err := c.Resolve(p)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		}
	}
}

func TestConcurrentReaders(t *testing.T) {
	c := newTestCache(nil)
	ids := randomIDs(rand.New(rand.NewSource(7)), 200, 10)
	insertAll(t, c, ids[:100]...)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids[:100] {
				got, err := c.Resolve(id)
				assert.NoError(t, err)
				assert.Equal(t, id, got)
			}
		}()
	}
	for _, id := range ids[100:] {
		require.NoError(t, c.Insert(context.Background(), id))
	}
	wg.Wait()
	assert.Equal(t, 200, c.Len())
}

func TestPersistenceMirrorsTrie(t *testing.T) {
	store := NewMemoryNodeStore()
	c := newTestCache(store)
	insertAll(t, c, "abc", "abd")
	require.NoError(t, c.Remove(context.Background(), "abd"))

	nodes, err := store.LoadNodes(context.Background())
	require.NoError(t, err)

	var prefixes []string
	for _, n := range nodes {
		prefixes = append(prefixes, n.Prefix)
		assert.True(t, n.IsUnique)
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, prefixes)
}

func TestLoadTrustsMatchingStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNodeStore()
	first := newTestCache(store)
	insertAll(t, first, "abc", "abd", "xyz")

	second := newTestCache(store)
	rebuilt, err := second.Load(ctx, []string{"xyz", "abd", "abc"})
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Equal(t, 3, second.Len())

	id, err := second.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)
}

func TestLoadRebuildsStaleStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNodeStore()
	first := newTestCache(store)
	insertAll(t, first, "abc", "abd")

	second := newTestCache(store)
	rebuilt, err := second.Load(ctx, []string{"abc", "xyz"})
	require.NoError(t, err)
	assert.True(t, rebuilt)

	nodes, err := store.LoadNodes(ctx)
	require.NoError(t, err)
	var ends []string
	for _, n := range nodes {
		if n.IsEndOfID {
			ends = append(ends, n.Prefix)
		}
	}
	sort.Strings(ends)
	assert.Equal(t, []string{"abc", "xyz"}, ends)

	_, ok := second.Node("abd")
	assert.False(t, ok)
}

func nodesOf(ids []string) []Node {
	var nodes []Node
	for _, sh := range build(ids) {
		for p, e := range sh {
			nodes = append(nodes, e.node(p))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Prefix < nodes[j].Prefix })
	return nodes
}

func TestRestoreMatchesBuild(t *testing.T) {
	ids := randomIDs(rand.New(rand.NewSource(11)), 300, 8)

	restored, err := restore(nodesOf(ids))
	require.NoError(t, err)
	assert.Equal(t, build(ids), restored)
}

type countingStore struct {
	*MemoryNodeStore
	replaced int
}

func (s *countingStore) ReplaceAll(ctx context.Context, nodes []Node) error {
	s.replaced++
	return s.MemoryNodeStore.ReplaceAll(ctx, nodes)
}

func TestLoadUsesPersistedNodes(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryNodeStore: NewMemoryNodeStore()}
	require.NoError(t, store.MemoryNodeStore.ReplaceAll(ctx, []Node{
		{Prefix: "a", IsUnique: false},
		{Prefix: "ab", IsUnique: false},
		{Prefix: "abc", IsUnique: true, IsEndOfID: true},
		{Prefix: "abd", IsUnique: true, IsEndOfID: true},
		{Prefix: "x", IsUnique: true},
		{Prefix: "xy", IsUnique: true},
		{Prefix: "xyz", IsUnique: true, IsEndOfID: true},
	}))

	c := newTestCache(store)
	rebuilt, err := c.Load(ctx, []string{"abc", "abd", "xyz"})
	require.NoError(t, err)
	assert.False(t, rebuilt)
	assert.Zero(t, store.replaced)
	assert.Equal(t, 3, c.Len())

	var amb *AmbiguousError
	_, err = c.Resolve("a")
	require.True(t, errors.As(err, &amb))
	assert.Equal(t, []string{"abc", "abd"}, amb.Candidates)

	id, err := c.Resolve("x")
	require.NoError(t, err)
	assert.Equal(t, "xyz", id)

	p, err := c.ShortestUniquePrefix("abd")
	require.NoError(t, err)
	assert.Equal(t, "abd", p)
}

func TestLoadRebuildsInconsistentStore(t *testing.T) {
	ids := []string{"abc", "abd", "xyz"}
	fresh := nodesOf(ids)

	edit := func(f func(map[string]Node)) []Node {
		m := make(map[string]Node)
		for _, n := range fresh {
			m[n.Prefix] = n
		}
		f(m)
		out := make([]Node, 0, len(m))
		for _, n := range m {
			out = append(out, n)
		}
		return out
	}

	tests := []struct {
		name  string
		nodes []Node
	}{
		{"stale is_unique", edit(func(m map[string]Node) {
			// Written by a process that had not seen abd yet
			m["ab"] = Node{Prefix: "ab", IsUnique: true}
		})},
		{"missing interior node", edit(func(m map[string]Node) { delete(m, "xy") })},
		{"node without ids below", edit(func(m map[string]Node) {
			m["q"] = Node{Prefix: "q", IsUnique: true}
		})},
		{"node without parent", edit(func(m map[string]Node) {
			m["mno"] = Node{Prefix: "mno", IsUnique: true}
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryNodeStore()
			require.NoError(t, store.ReplaceAll(ctx, tt.nodes))

			c := newTestCache(store)
			rebuilt, err := c.Load(ctx, ids)
			require.NoError(t, err)
			assert.True(t, rebuilt)

			persisted, err := store.LoadNodes(ctx)
			require.NoError(t, err)
			assert.Equal(t, fresh, persisted)

			node, ok := c.Node("ab")
			require.True(t, ok)
			assert.False(t, node.IsUnique)
		})
	}
}

func TestResolveSeesWholeUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(nil)
	insertAll(t, c, "abcdefgh")

	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				id, err := c.Resolve("abc")
				var amb *AmbiguousError
				switch {
				case err == nil:
					assert.Equal(t, "abcdefgh", id)
				case errors.As(err, &amb):
					assert.Equal(t, []string{"abcdefgh", "abcxyzuv"}, amb.Candidates)
				default:
					assert.NoError(t, err)
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, c.Insert(ctx, "abcxyzuv"))
		require.NoError(t, c.Remove(ctx, "abcxyzuv"))
	}
	close(done)
	wg.Wait()
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultDBName)

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	c := newTestCache(store)
	insertAll(t, c, "abc", "abd", "xyz")
	require.NoError(t, c.Remove(ctx, "xyz"))
	require.NoError(t, store.Close())

	// Reopen and check the persisted trie is trusted
	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	nodes, err := store.LoadNodes(ctx)
	require.NoError(t, err)
	byPrefix := make(map[string]Node)
	for _, n := range nodes {
		byPrefix[n.Prefix] = n
	}
	assert.Len(t, byPrefix, 4) // a, ab, abc, abd
	assert.False(t, byPrefix["ab"].IsUnique)
	assert.True(t, byPrefix["abc"].IsEndOfID)
	assert.NotContains(t, byPrefix, "x")

	reloaded := newTestCache(store)
	rebuilt, err := reloaded.Load(ctx, []string{"abc", "abd"})
	require.NoError(t, err)
	assert.False(t, rebuilt)

	rebuilt, err = reloaded.Load(ctx, []string{"abc"})
	require.NoError(t, err)
	assert.True(t, rebuilt)

	nodes, err = store.LoadNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}
