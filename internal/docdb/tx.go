package docdb

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
)

// backend is the storage a transaction reads from and commits into.
type backend interface {
	// load returns the current content of key.
	load(key string) (data []byte, ok bool, err error)

	// committed returns the content of key as of the last commit.
	committed(key string) (data []byte, ok bool, err error)

	// list returns the committed keys.
	list() ([]string, error)

	// apply persists changes as one unit.
	apply(changes []change) error

	// unlock releases the write lock taken by Begin.
	unlock() error

	parser() Parser
	logger() *log.Logger
}

// change is one document write or removal.
type change struct {
	key    string
	data   []byte
	remove bool
}

// tx is the transaction shared by every backend. Pending changes live in
// an overlay until release.
type tx struct {
	b backend

	mu      sync.Mutex
	pending map[string]change
	closed  bool

	once sync.Once
}

var _ Tx = (*tx)(nil)

func newTx(b backend) *tx {
	t := &tx{b: b, pending: make(map[string]change)}

	// Safety net for transactions that are dropped without Release or
	// Discard: free the lock so the store does not stay locked until
	// the process exits. Pending changes are lost.
	runtime.SetFinalizer(t, func(t *tx) {
		t.b.logger().Printf("Warning: transaction was never released; unlocking without committing %d pending change(s)", len(t.pending))
		if err := t.b.unlock(); err != nil {
			t.b.logger().Printf("Warning: failed to unlock abandoned transaction: %v", err)
		}
	})

	return t
}

func (t *tx) Read(key string, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTxClosed
	}
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	if c, ok := t.pending[key]; ok {
		if c.remove {
			return ErrNotFound
		}
		return decode(t.b.parser(), key, c.data, v)
	}

	data, ok, err := t.b.load(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return decode(t.b.parser(), key, data, v)
}

func (t *tx) Keys() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTxClosed
	}

	committed, err := t.b.list()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(committed)+len(t.pending))
	for _, k := range committed {
		set[k] = struct{}{}
	}
	for k, c := range t.pending {
		if c.remove {
			delete(set, k)
		} else {
			set[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *tx) Write(key string, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTxClosed
	}
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := t.b.parser().Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	t.pending[key] = change{key: key, data: data}
	return nil
}

func (t *tx) Remove(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTxClosed
	}
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	_, exists, err := t.b.load(key)
	if err == nil && !exists {
		_, exists, err = t.b.committed(key)
	}
	if err != nil {
		return err
	}
	if !exists {
		// Nothing to delete at base; forget any pending write
		delete(t.pending, key)
		return nil
	}
	t.pending[key] = change{key: key, remove: true}
	return nil
}

// Release commits the pending changes and unlocks. The lock is released
// whatever happens to the commit.
func (t *tx) Release() error {
	err := ErrTxClosed
	t.once.Do(func() {
		err = t.release()
	})
	return err
}

// Discard drops the pending changes and unlocks.
func (t *tx) Discard() error {
	err := ErrTxClosed
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.pending = nil
		t.mu.Unlock()

		runtime.SetFinalizer(t, nil)
		err = t.b.unlock()
	})
	return err
}

func (t *tx) release() error {
	t.mu.Lock()
	t.closed = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	runtime.SetFinalizer(t, nil)

	changes, commitErr := t.effective(pending)
	if commitErr == nil && len(changes) > 0 {
		commitErr = t.b.apply(changes)
	}

	unlockErr := t.b.unlock()
	if unlockErr != nil && commitErr == nil {
		t.b.logger().Printf("Warning: changes were committed but the lock could not be released: %v", unlockErr)
	}

	if commitErr == nil && unlockErr == nil {
		return nil
	}
	return &ReleaseError{Commit: commitErr, Unlock: unlockErr}
}

// effective drops pending changes that match the last commit and returns
// the rest ordered by key.
func (t *tx) effective(pending map[string]change) ([]change, error) {
	changes := make([]change, 0, len(pending))
	for key, c := range pending {
		data, ok, err := t.b.committed(key)
		if err != nil {
			return nil, err
		}
		if c.remove && !ok {
			continue
		}
		if !c.remove && ok && bytes.Equal(data, c.data) {
			continue
		}
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].key < changes[j].key })
	return changes, nil
}

func decode(p Parser, key string, data []byte, v any) error {
	if err := Decode(p, data, v); err != nil {
		return &CorruptedError{Key: key, Err: err}
	}
	return nil
}

// reader is a lock-free view over a backend's committed state.
type reader struct {
	b backend
}

func (r reader) Read(key string, v any) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	data, ok, err := r.b.load(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return decode(r.b.parser(), key, data, v)
}

func (r reader) Keys() ([]string, error) {
	keys, err := r.b.list()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Update runs fn in a transaction. The transaction is released when fn
// returns nil and discarded when it returns an error or panics.
func Update(s Store, fn func(ReadWriter) error) (err error) {
	t, err := s.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = t.Discard()
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		if derr := t.Discard(); derr != nil {
			return fmt.Errorf("%w (discard: %v)", err, derr)
		}
		return err
	}

	return t.Release()
}
