// Package docdb is a transactional document store kept in a git
// repository.
//
// Every document is one file in the repository's working tree, named by
// its key plus the parser's extension. Writes happen inside a transaction
// that holds the store's cross-process lock, buffers changes in memory,
// and turns them into exactly one commit on Release. Sync replays local
// commits on top of the remote branch document by document, handing
// conflicts to a caller-supplied resolver.
//
// # Usage
//
//	store, err := docdb.Open(path, docdb.JSONParser{}, nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = docdb.Update(store, func(rw docdb.ReadWriter) error {
//	    return rw.Write("2024-01-02", doc)
//	})
//
// Two backends exist: GitConnection, and MemoryStore for tests and
// throwaway sessions.
package docdb

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/o324/o324/internal/vcs"
)

// Reader reads documents.
type Reader interface {
	// Read decodes the document stored under key into v. It returns
	// ErrNotFound for absent documents and a *CorruptedError when the
	// content cannot be decoded.
	Read(key string, v any) error

	// Keys lists stored document keys in ascending order.
	Keys() ([]string, error)
}

// ReadWriter reads and changes documents.
type ReadWriter interface {
	Reader

	// Write stores v under key.
	Write(key string, v any) error

	// Remove deletes the document stored under key. Removing an absent
	// document is a no-op.
	Remove(key string) error
}

// Tx is a write transaction. Reads observe the transaction's own pending
// writes. Exactly one of Release or Discard must be called.
type Tx interface {
	ReadWriter

	// Release commits pending changes, if any, and unlocks the store.
	Release() error

	// Discard drops pending changes and unlocks the store.
	Discard() error
}

// Store is a document database.
type Store interface {
	// Begin starts a write transaction. It never blocks: when the lock is
	// held elsewhere it returns ErrLocked.
	Begin() (Tx, error)

	// View runs fn against the committed state without taking the lock.
	View(fn func(Reader) error) error

	// Sync fetches the remote branch and rebases local history on it.
	// resolve may be nil.
	Sync(ctx context.Context, resolve Resolver) (*SyncReport, error)

	// Push publishes local history to the remote.
	Push(ctx context.Context) error

	// Parser returns the document format of the store.
	Parser() Parser

	Close() error
}

// Config holds store configuration.
type Config struct {
	// Remote is the remote synced with
	Remote string

	// Branch is the branch every transaction commits to
	Branch string

	// Logger for store activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: vcs.DefaultRemote,
		Branch: vcs.DefaultBranch,
		Logger: log.New(os.Stderr, "[store] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Remote == "" {
		out.Remote = def.Remote
	}
	if out.Branch == "" {
		out.Branch = def.Branch
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}

// validKey rejects keys that would escape the store directory or collide
// with hidden files.
func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}
