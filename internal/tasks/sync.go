package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/o324/o324/internal/docdb"
)

// SyncResult describes a finished task sync.
type SyncResult struct {
	Report  *docdb.SyncReport
	Actions []TaskAction
}

// Sync exchanges history with the remote, resolving conflicts so the
// store invariants hold afterwards. The prefix cache is rebuilt and the
// tasks the sync changed are announced.
func (s *Store) Sync(ctx context.Context) (*SyncResult, error) {
	before, err := s.metadata()
	if err != nil {
		return nil, err
	}

	report, err := s.db.Sync(ctx, resolver(s.config.Logger))
	if err != nil {
		return nil, err
	}
	result := &SyncResult{Report: report}
	if len(report.Changed) == 0 {
		return result, nil
	}

	after, err := s.metadata()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Rebuild(ctx, after.TaskRefs); err != nil {
		s.config.Logger.Printf("Warning: failed to rebuild prefix cache: %v", err)
	}

	actions, err := s.syncActions(report.Changed, before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to collect synced tasks: %w", err)
	}
	result.Actions = actions
	if len(actions) > 0 {
		s.config.Notifier.Notify(actions)
	}
	return result, nil
}

// syncActions announces every task of the changed days and every id the
// sync removed.
func (s *Store) syncActions(changed []string, before, after MetadataDocument) ([]TaskAction, error) {
	var actions []TaskAction
	err := s.db.View(func(r docdb.Reader) error {
		for _, key := range changed {
			if !IsDayKey(key) {
				continue
			}
			tasks, err := dayTasksDesc(r, key)
			if errors.Is(err, docdb.ErrCorrupted) {
				s.config.Logger.Printf("Warning: %v", err)
				continue
			}
			if err != nil {
				return err
			}
			for i := len(tasks) - 1; i >= 0; i-- {
				actions = append(actions, Upsert(tasks[i]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range before.TaskRefs {
		if !after.HasRef(id) {
			actions = append(actions, Delete(id))
		}
	}
	return actions, nil
}

