package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/notify"
	"github.com/o324/o324/internal/prefix"
	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/vcs"
)

// errMemoryBackend is returned by commands that need a persistent store.
var errMemoryBackend = errors.New("the memory backend only lives inside 'o324 daemon'")

// session is an open task store and what must be closed with it.
type session struct {
	store   *tasks.Store
	db      docdb.Store
	gitDir  string
	closers []io.Closer
}

func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type openOptions struct {
	// Notifier receives committed actions; CLI commands forward them to
	// the daemon
	Notifier tasks.Notifier

	// Logger for the store layers
	Logger *log.Logger

	// AllowMemory permits the in-memory backend
	AllowMemory bool
}

func storeLogger(out io.Writer, name string) *log.Logger {
	return log.New(out, "["+name+"] ", log.LstdFlags)
}

// openStore connects to the configured repository and loads the prefix
// cache.
func openStore(ctx context.Context, opts openOptions) (*session, error) {
	parser, err := docdb.ParserFor(cfg.Storage.Format)
	if err != nil {
		return nil, err
	}
	out := io.Writer(os.Stderr)
	if opts.Logger != nil {
		out = opts.Logger.Writer()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewPoster(cfg.Daemon.Addr)
	}

	s := &session{}
	var cache *prefix.Cache
	switch cfg.Storage.Backend {
	case "memory":
		if !opts.AllowMemory {
			return nil, errMemoryBackend
		}
		s.db = docdb.NewMemoryStore(parser, &docdb.Config{Logger: storeLogger(out, "store")})
		cache = prefix.New(&prefix.Config{Logger: storeLogger(out, "prefix")})

	default:
		db, err := docdb.Open(cfg.Repository.Path, parser, &docdb.Config{
			Remote: vcs.DefaultRemote,
			Branch: vcs.DefaultBranch,
			Logger: storeLogger(out, "store"),
		})
		if err != nil {
			return nil, fmt.Errorf("%w (run 'o324 init' first)", err)
		}
		s.db = db
		s.closers = append(s.closers, db)

		gitDir, err := db.Repo().VCSDir()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.gitDir = gitDir

		nodes, err := prefix.OpenSQLite(filepath.Join(gitDir, prefix.DefaultDBName))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, nodes)
		cache = prefix.New(&prefix.Config{Store: nodes, Logger: storeLogger(out, "prefix")})
	}

	s.store = tasks.New(s.db, cache, &tasks.Config{
		Notifier:     opts.Notifier,
		ComputerName: cfg.ComputerName,
		Logger:       storeLogger(out, "tasks"),
	})
	if err := s.store.Load(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
