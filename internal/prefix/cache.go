// Package prefix resolves abbreviated task identifiers.
//
// The cache is a trie over every known id, stored flat: one entry per
// prefix, holding how many ids share that prefix, whether an id ends
// there, and which characters follow it. A prefix is unique when exactly
// one id has it, so the shortest unique prefix of an id is the first
// entry along its path with a count of one.
//
// Entries are spread over fixed shards. One RWMutex covers every shard:
// an Insert or Remove changes its whole path under the write lock, and
// readers hold the read lock for a whole walk, so a Resolve never sees a
// half-updated path. Readers never wait on each other. Writers are also
// serialized by a second mutex held while their changes are persisted.
//
// Nodes are mirrored into a NodeStore after every change so the trie
// survives restarts without being rebuilt from the documents.
package prefix

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const shardCount = 32

var (
	// ErrNoMatch is returned when no id starts with a reference.
	ErrNoMatch = errors.New("no task matches reference")

	// ErrAmbiguous is matched by *AmbiguousError.
	ErrAmbiguous = errors.New("ambiguous task reference")
)

// AmbiguousError is returned when a reference is the prefix of several ids.
type AmbiguousError struct {
	Ref        string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%s %q matches %d tasks: %s",
		ErrAmbiguous, e.Ref, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguous }

// Node is the persisted form of a trie entry.
type Node struct {
	Prefix    string
	IsUnique  bool
	IsEndOfID bool
}

type entry struct {
	count    int
	endOfID  bool
	children map[byte]struct{}
}

func (e *entry) node(prefix string) Node {
	return Node{Prefix: prefix, IsUnique: e.count == 1, IsEndOfID: e.endOfID}
}

// view is a copy of an entry taken under its shard lock.
type view struct {
	count    int
	endOfID  bool
	children []byte
}

type shard struct {
	nodes map[string]*entry
}

// Config holds cache configuration.
type Config struct {
	// Store persists trie nodes
	Store NodeStore

	// Logger for cache activity
	Logger *log.Logger
}

// DefaultConfig returns a cache configuration with in-memory persistence.
func DefaultConfig() *Config {
	return &Config{
		Store:  NewMemoryNodeStore(),
		Logger: log.New(os.Stderr, "[prefix] ", log.LstdFlags),
	}
}

// Cache is a concurrent prefix trie of task ids.
type Cache struct {
	shards [shardCount]*shard

	// mu guards the shard maps; writer orders changes and their persistence
	mu     sync.RWMutex
	writer sync.Mutex

	size   atomic.Int64
	config *Config
}

// New returns an empty cache.
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Store == nil {
		config.Store = NewMemoryNodeStore()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	c := &Cache{config: config}
	for i := range c.shards {
		c.shards[i] = &shard{nodes: make(map[string]*entry)}
	}
	return c
}

func shardIndex(prefix string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prefix))
	return h.Sum32() % shardCount
}

func (c *Cache) shardFor(prefix string) *shard {
	return c.shards[shardIndex(prefix)]
}

// lookup copies the entry for prefix. Caller holds mu.
func (c *Cache) lookup(prefix string) (view, bool) {
	e, ok := c.shardFor(prefix).nodes[prefix]
	if !ok {
		return view{}, false
	}
	v := view{count: e.count, endOfID: e.endOfID, children: make([]byte, 0, len(e.children))}
	for ch := range e.children {
		v.children = append(v.children, ch)
	}
	sort.Slice(v.children, func(i, j int) bool { return v.children[i] < v.children[j] })
	return v, true
}

// Insert adds id. Inserting a known id is a no-op.
func (c *Cache) Insert(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("cannot insert empty id")
	}

	c.writer.Lock()
	defer c.writer.Unlock()

	c.mu.Lock()
	if v, ok := c.lookup(id); ok && v.endOfID {
		c.mu.Unlock()
		return nil
	}

	upserts := make([]Node, 0, len(id))
	for i := 1; i <= len(id); i++ {
		p := id[:i]
		sh := c.shardFor(p)

		e, ok := sh.nodes[p]
		if !ok {
			e = &entry{children: make(map[byte]struct{})}
			sh.nodes[p] = e
		}
		e.count++
		if i < len(id) {
			e.children[id[i]] = struct{}{}
		} else {
			e.endOfID = true
		}
		upserts = append(upserts, e.node(p))
	}
	c.mu.Unlock()
	c.size.Add(1)

	if err := c.config.Store.SaveNodes(ctx, upserts, nil); err != nil {
		return fmt.Errorf("failed to persist prefix nodes for %s: %w", id, err)
	}
	return nil
}

// Remove deletes id. Entries no other id shares are dropped, which
// collapses the branch. Removing an unknown id is a no-op.
func (c *Cache) Remove(ctx context.Context, id string) error {
	c.writer.Lock()
	defer c.writer.Unlock()

	c.mu.Lock()
	if v, ok := c.lookup(id); !ok || !v.endOfID {
		c.mu.Unlock()
		return nil
	}

	var upserts []Node
	var deletes []string
	childGone := false
	for i := len(id); i >= 1; i-- {
		p := id[:i]
		sh := c.shardFor(p)

		e, ok := sh.nodes[p]
		if !ok {
			continue
		}
		e.count--
		if i == len(id) {
			e.endOfID = false
		}
		if childGone {
			delete(e.children, id[i])
		}
		if e.count <= 0 {
			delete(sh.nodes, p)
			deletes = append(deletes, p)
			childGone = true
		} else {
			upserts = append(upserts, e.node(p))
			childGone = false
		}
	}
	c.mu.Unlock()
	c.size.Add(-1)

	if err := c.config.Store.SaveNodes(ctx, upserts, deletes); err != nil {
		return fmt.Errorf("failed to persist prefix nodes for %s: %w", id, err)
	}
	return nil
}

// Resolve expands ref to the single id it abbreviates.
//
// A full id resolves to itself. A unique prefix resolves to its id. A
// prefix shared by several ids returns *AmbiguousError listing them, and
// an unknown prefix returns ErrNoMatch.
func (c *Cache) Resolve(ref string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.lookup(ref)
	if ref == "" || !ok {
		return "", fmt.Errorf("%w: %q", ErrNoMatch, ref)
	}
	if v.endOfID {
		return ref, nil
	}
	if v.count > 1 {
		return "", &AmbiguousError{Ref: ref, Candidates: c.collect(ref)}
	}

	// Unique: follow the only path down to the id
	cur := ref
	for {
		if v.endOfID {
			return cur, nil
		}
		if len(v.children) != 1 {
			return "", fmt.Errorf("prefix trie is inconsistent at %q", cur)
		}
		cur += string(v.children[0])
		if v, ok = c.lookup(cur); !ok {
			return "", fmt.Errorf("prefix trie is inconsistent at %q", cur)
		}
	}
}

// collect returns every id under prefix, sorted. Caller holds mu.
func (c *Cache) collect(prefix string) []string {
	var ids []string
	stack := []string{prefix}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, ok := c.lookup(p)
		if !ok {
			continue
		}
		if v.endOfID {
			ids = append(ids, p)
		}
		for _, ch := range v.children {
			stack = append(stack, p+string(ch))
		}
	}
	sort.Strings(ids)
	return ids
}

// ShortestUniquePrefix returns the shortest prefix of id no other id
// shares.
func (c *Cache) ShortestUniquePrefix(id string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 1; i <= len(id); i++ {
		v, ok := c.lookup(id[:i])
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrNoMatch, id)
		}
		if v.count == 1 {
			return id[:i], nil
		}
	}
	return id, nil
}

// Node returns the entry for prefix.
func (c *Cache) Node(prefix string) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.lookup(prefix)
	if !ok {
		return Node{}, false
	}
	return Node{Prefix: prefix, IsUnique: v.count == 1, IsEndOfID: v.endOfID}, true
}

// Len returns the number of ids in the cache.
func (c *Cache) Len() int {
	return int(c.size.Load())
}

// Load initializes the cache from the persisted nodes. They are trusted
// only when they form a consistent trie whose ids are exactly ids;
// otherwise the cache is rebuilt from ids and the store rewritten. Load
// reports whether a rebuild happened.
func (c *Cache) Load(ctx context.Context, ids []string) (rebuilt bool, err error) {
	nodes, err := c.config.Store.LoadNodes(ctx)
	if err != nil {
		c.config.Logger.Printf("Warning: failed to load prefix nodes, rebuilding: %v", err)
		return true, c.Rebuild(ctx, ids)
	}

	restored, err := restore(nodes)
	if err != nil {
		c.config.Logger.Printf("Prefix cache is inconsistent (%v), rebuilding", err)
		return true, c.Rebuild(ctx, ids)
	}

	persisted := make(map[string]struct{})
	for _, n := range nodes {
		if n.IsEndOfID {
			persisted[n.Prefix] = struct{}{}
		}
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	if !sameSet(persisted, wanted) {
		c.config.Logger.Printf("Prefix cache is stale (%d persisted, %d known), rebuilding", len(persisted), len(wanted))
		return true, c.Rebuild(ctx, ids)
	}

	c.writer.Lock()
	defer c.writer.Unlock()
	c.swap(restored)
	return false, nil
}

// restore turns persisted nodes back into shard maps. Children come from
// the next-longer prefixes and counts from the end-of-id nodes below each
// prefix. Every node needs its parent, at least one id below it, and an
// is_unique flag matching that count.
func restore(nodes []Node) ([shardCount]map[string]*entry, error) {
	var out [shardCount]map[string]*entry
	for i := range out {
		out[i] = make(map[string]*entry)
	}
	get := func(p string) *entry { return out[shardIndex(p)][p] }

	for _, n := range nodes {
		if n.Prefix == "" {
			return out, errors.New("node with an empty prefix")
		}
		if get(n.Prefix) != nil {
			return out, fmt.Errorf("duplicate node %q", n.Prefix)
		}
		out[shardIndex(n.Prefix)][n.Prefix] = &entry{endOfID: n.IsEndOfID, children: make(map[byte]struct{})}
	}

	for _, n := range nodes {
		p := n.Prefix
		if len(p) == 1 {
			continue
		}
		parent := get(p[:len(p)-1])
		if parent == nil {
			return out, fmt.Errorf("node %q has no parent", p)
		}
		parent.children[p[len(p)-1]] = struct{}{}
	}

	// Every ancestor exists now, since each node has its parent
	for _, n := range nodes {
		if !n.IsEndOfID {
			continue
		}
		for i := 1; i <= len(n.Prefix); i++ {
			get(n.Prefix[:i]).count++
		}
	}

	for _, n := range nodes {
		e := get(n.Prefix)
		if e.count == 0 {
			return out, fmt.Errorf("node %q has no id below it", n.Prefix)
		}
		if n.IsUnique != (e.count == 1) {
			return out, fmt.Errorf("node %q has a stale is_unique flag", n.Prefix)
		}
	}
	return out, nil
}

// Rebuild replaces the cache content with ids.
func (c *Cache) Rebuild(ctx context.Context, ids []string) error {
	c.writer.Lock()
	defer c.writer.Unlock()

	fresh := build(ids)
	c.swap(fresh)

	var nodes []Node
	for _, sh := range fresh {
		for p, e := range sh {
			nodes = append(nodes, e.node(p))
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Prefix < nodes[j].Prefix })

	if err := c.config.Store.ReplaceAll(ctx, nodes); err != nil {
		return fmt.Errorf("failed to persist prefix trie: %w", err)
	}
	return nil
}

// swap installs fresh shard maps. Caller holds the writer lock.
func (c *Cache) swap(fresh [shardCount]map[string]*entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	for i, sh := range c.shards {
		sh.nodes = fresh[i]
		for _, e := range fresh[i] {
			if e.endOfID {
				n++
			}
		}
	}
	c.size.Store(n)
}

// build computes the shard maps for ids without touching the cache.
func build(ids []string) [shardCount]map[string]*entry {
	var out [shardCount]map[string]*entry
	for i := range out {
		out[i] = make(map[string]*entry)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		for i := 1; i <= len(id); i++ {
			p := id[:i]
			m := out[shardIndex(p)]

			e, ok := m[p]
			if !ok {
				e = &entry{children: make(map[byte]struct{})}
				m[p] = e
			}
			e.count++
			if i < len(id) {
				e.children[id[i]] = struct{}{}
			} else {
				e.endOfID = true
			}
		}
	}
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
