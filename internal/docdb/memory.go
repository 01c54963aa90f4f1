package docdb

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// MemoryStore is a Store kept in process memory. Its lock only excludes
// transactions of the same MemoryStore, and Sync and Push do nothing.
type MemoryStore struct {
	format Parser
	log    *log.Logger

	writer sync.Mutex

	mu       sync.RWMutex
	docs     map[string][]byte
	revision int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore(parser Parser, config *Config) *MemoryStore {
	if parser == nil {
		parser = JSONParser{}
	}
	return &MemoryStore{
		format: parser,
		log:    config.withDefaults().Logger,
		docs:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Begin() (Tx, error) {
	if !m.writer.TryLock() {
		return nil, fmt.Errorf("%w: a transaction is already open", ErrLocked)
	}
	return newTx(m), nil
}

func (m *MemoryStore) View(fn func(Reader) error) error {
	return fn(reader{b: m})
}

func (m *MemoryStore) Sync(ctx context.Context, resolve Resolver) (*SyncReport, error) {
	report := &SyncReport{UpToDate: true}
	report.enter(StateIdle)
	return report, ctx.Err()
}

func (m *MemoryStore) Push(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Parser() Parser {
	return m.format
}

func (m *MemoryStore) Close() error {
	return nil
}

// Revision counts applied transactions that changed something.
func (m *MemoryStore) Revision() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Raw returns the stored bytes of key.
func (m *MemoryStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (m *MemoryStore) parser() Parser {
	return m.format
}

func (m *MemoryStore) logger() *log.Logger {
	return m.log
}

func (m *MemoryStore) load(key string) ([]byte, bool, error) {
	data, ok := m.Raw(key)
	return data, ok, nil
}

func (m *MemoryStore) committed(key string) ([]byte, bool, error) {
	return m.load(key)
}

func (m *MemoryStore) list() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryStore) apply(changes []change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range changes {
		if c.remove {
			delete(m.docs, c.key)
		} else {
			m.docs[c.key] = c.data
		}
	}
	m.revision++
	return nil
}

func (m *MemoryStore) unlock() error {
	// Called exactly once by the owning transaction
	m.writer.Unlock()
	return nil
}
