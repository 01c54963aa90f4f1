package prefix

import (
	"context"
	"sort"
	"sync"
)

// NodeStore persists trie nodes.
type NodeStore interface {
	// LoadNodes returns every persisted node.
	LoadNodes(ctx context.Context) ([]Node, error)

	// SaveNodes applies one batch of node changes atomically.
	SaveNodes(ctx context.Context, upserts []Node, deletes []string) error

	// ReplaceAll discards every node and stores nodes instead.
	ReplaceAll(ctx context.Context, nodes []Node) error

	Close() error
}

// MemoryNodeStore is a NodeStore that forgets everything on exit.
type MemoryNodeStore struct {
	mu    sync.Mutex
	nodes map[string]Node
}

// NewMemoryNodeStore returns an empty store.
func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{nodes: make(map[string]Node)}
}

func (m *MemoryNodeStore) LoadNodes(ctx context.Context) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Prefix < nodes[j].Prefix })
	return nodes, nil
}

func (m *MemoryNodeStore) SaveNodes(ctx context.Context, upserts []Node, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range deletes {
		delete(m.nodes, p)
	}
	for _, n := range upserts {
		m.nodes[n.Prefix] = n
	}
	return nil
}

func (m *MemoryNodeStore) ReplaceAll(ctx context.Context, nodes []Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes = make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m.nodes[n.Prefix] = n
	}
	return nil
}

func (m *MemoryNodeStore) Close() error {
	return nil
}
