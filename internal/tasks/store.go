package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/ids"
	"github.com/o324/o324/internal/prefix"
)

// Config holds task store configuration.
type Config struct {
	// Notifier receives the actions of every committed mutation
	Notifier Notifier

	// Clock returns the current time in unix milliseconds
	Clock func() int64

	// ComputerName is recorded on tasks started by this store
	ComputerName string

	// Logger for store activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		Notifier:     NopNotifier{},
		Clock:        ids.Now,
		ComputerName: host,
		Logger:       log.New(os.Stderr, "[tasks] ", log.LstdFlags),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Notifier == nil {
		out.Notifier = def.Notifier
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return &out
}

// Store keeps tasks in a document store and mirrors their ids in a
// prefix cache.
type Store struct {
	db     docdb.Store
	cache  *prefix.Cache
	config *Config
}

// New creates a task store. Call Load before resolving references.
func New(db docdb.Store, cache *prefix.Cache, config *Config) *Store {
	if cache == nil {
		cache = prefix.New(nil)
	}
	return &Store{db: db, cache: cache, config: config.withDefaults()}
}

// DB returns the underlying document store.
func (s *Store) DB() docdb.Store {
	return s.db
}

// Cache returns the prefix cache.
func (s *Store) Cache() *prefix.Cache {
	return s.cache
}

// SetNotifier replaces the notifier. It must not be called while
// operations are in flight.
func (s *Store) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	s.config.Notifier = n
}

// Load fills the prefix cache from the metadata document.
func (s *Store) Load(ctx context.Context) error {
	meta, err := s.metadata()
	if err != nil {
		return err
	}
	rebuilt, err := s.cache.Load(ctx, meta.TaskRefs)
	if err != nil {
		return fmt.Errorf("failed to load prefix cache: %w", err)
	}
	if rebuilt {
		s.config.Logger.Printf("Rebuilt prefix cache for %d tasks", len(meta.TaskRefs))
	}
	return nil
}

func (s *Store) metadata() (MetadataDocument, error) {
	var meta MetadataDocument
	err := s.db.View(func(r docdb.Reader) error {
		var err error
		meta, err = readMetadata(r)
		return err
	})
	return meta, err
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(id string) (Task, error) {
	var task Task
	err := s.db.View(func(r docdb.Reader) error {
		var err error
		task, err = getTask(r, id)
		return err
	})
	return task, err
}

func getTask(r docdb.Reader, id string) (Task, error) {
	day, err := ids.Day(id)
	if err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	doc, err := readDaily(r, day)
	if err != nil {
		return Task{}, err
	}
	task, ok := doc.Tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return task, nil
}

// CurrentTask returns the running task, or nil when none runs.
func (s *Store) CurrentTask() (*Task, error) {
	var current *Task
	err := s.db.View(func(r docdb.Reader) error {
		meta, err := readMetadata(r)
		if err != nil || meta.Current == nil {
			return err
		}
		task, err := getTask(r, *meta.Current)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current = &task
		return nil
	})
	return current, err
}

// UpsertTask creates or replaces a task. A task without an end becomes
// the current task; it fails with ErrAlreadyRunning when another task
// already is.
func (s *Store) UpsertTask(ctx context.Context, task Task) ([]TaskAction, error) {
	return s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		return upsertTask(rw, task)
	})
}

func upsertTask(rw docdb.ReadWriter, task Task) ([]TaskAction, error) {
	task.normalize()
	if err := task.Validate(); err != nil {
		return nil, err
	}
	day, err := task.Day()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	meta, err := readMetadata(rw)
	if err != nil {
		return nil, err
	}
	switch {
	case task.Running() && meta.Current != nil && *meta.Current != task.ID:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, *meta.Current)
	case task.Running():
		meta.Current = ptr(task.ID)
	case meta.Current != nil && *meta.Current == task.ID:
		meta.Current = nil
	}
	meta.AddRef(task.ID)

	doc, err := readDaily(rw, day)
	if err != nil {
		return nil, err
	}
	doc.Tasks[task.ID] = task

	if err := writeDaily(rw, day, doc); err != nil {
		return nil, err
	}
	if err := writeMetadata(rw, meta); err != nil {
		return nil, err
	}
	return []TaskAction{Upsert(task)}, nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) ([]TaskAction, error) {
	return s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		return deleteTask(rw, id)
	})
}

func deleteTask(rw docdb.ReadWriter, id string) ([]TaskAction, error) {
	day, err := ids.Day(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	doc, err := readDaily(rw, day)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Tasks[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(doc.Tasks, id)

	meta, err := readMetadata(rw)
	if err != nil {
		return nil, err
	}
	meta.RemoveRef(id)
	if meta.Current != nil && *meta.Current == id {
		meta.Current = nil
	}

	if err := writeDaily(rw, day, doc); err != nil {
		return nil, err
	}
	if err := writeMetadata(rw, meta); err != nil {
		return nil, err
	}
	return []TaskAction{Delete(id)}, nil
}

// StartTask starts a new task. Nothing is written when another task is
// running.
func (s *Store) StartTask(ctx context.Context, opts StartOptions) (Task, []TaskAction, error) {
	var started Task
	actions, err := s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		meta, err := readMetadata(rw)
		if err != nil {
			return nil, err
		}
		if meta.Current != nil {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, *meta.Current)
		}

		at := opts.At
		if at == 0 {
			at = s.config.Clock()
		}
		id, err := ids.FromTimestamp(at)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}

		started = Task{
			ID:       id.String(),
			TaskName: opts.Name,
			Project:  opts.Project,
			Tags:     append([]string{}, opts.Tags...),
			Start:    at,
		}
		if s.config.ComputerName != "" {
			started.ComputerName = ptr(s.config.ComputerName)
		}
		started.normalize()
		return upsertTask(rw, started)
	})
	if err != nil {
		return Task{}, nil, err
	}
	return started, actions, nil
}

// StopCurrentTask ends the running task at the given time, or now when
// at is zero.
func (s *Store) StopCurrentTask(ctx context.Context, at int64) (Result, []TaskAction, error) {
	var result Result
	actions, err := s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		task, ok, err := s.takeCurrent(rw)
		if err != nil || !ok {
			result = Result{NothingToDo: true}
			return nil, err
		}
		if at == 0 {
			at = s.config.Clock()
		}
		task.End = ptr(at)
		result = Result{Task: &task}
		return upsertTask(rw, task)
	})
	if err != nil {
		return Result{}, nil, err
	}
	return result, actions, nil
}

// CancelCurrentTask deletes the running task.
func (s *Store) CancelCurrentTask(ctx context.Context) (Result, []TaskAction, error) {
	var result Result
	actions, err := s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		task, ok, err := s.takeCurrent(rw)
		if err != nil || !ok {
			result = Result{NothingToDo: true}
			return nil, err
		}
		result = Result{Task: &task}
		return deleteTask(rw, task.ID)
	})
	if err != nil {
		return Result{}, nil, err
	}
	return result, actions, nil
}

// takeCurrent returns the running task. A current reference to a task
// that no longer exists is cleared.
func (s *Store) takeCurrent(rw docdb.ReadWriter) (Task, bool, error) {
	meta, err := readMetadata(rw)
	if err != nil || meta.Current == nil {
		return Task{}, false, err
	}
	task, err := getTask(rw, *meta.Current)
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTask):
		s.config.Logger.Printf("Warning: clearing dangling current task %s", *meta.Current)
		meta.Current = nil
		return Task{}, false, writeMetadata(rw, meta)
	case err != nil:
		return Task{}, false, err
	}
	return task, true, nil
}

// EditTask applies a partial update to the referenced task.
func (s *Store) EditTask(ctx context.Context, ref string, update TaskUpdate) (Task, []TaskAction, error) {
	id, err := s.Resolve(ref)
	if err != nil {
		return Task{}, nil, err
	}
	var edited Task
	actions, err := s.mutate(ctx, func(rw docdb.ReadWriter) ([]TaskAction, error) {
		task, err := getTask(rw, id)
		if err != nil {
			return nil, err
		}
		edited = update.Apply(task)
		return upsertTask(rw, edited)
	})
	if err != nil {
		return Task{}, nil, err
	}
	return edited, actions, nil
}

// RestartTask starts a new task with the name, project and tags of the
// referenced one. An empty ref restarts the newest task.
func (s *Store) RestartTask(ctx context.Context, ref string) (Task, []TaskAction, error) {
	if ref == "" {
		ref = RefLast
	}
	id, err := s.Resolve(ref)
	if err != nil {
		return Task{}, nil, err
	}
	from, err := s.GetTask(id)
	if err != nil {
		return Task{}, nil, err
	}
	return s.StartTask(ctx, StartOptions{
		Name:    from.TaskName,
		Project: from.Project,
		Tags:    from.Tags,
	})
}

// ShortestPrefix returns the shortest prefix identifying id, falling
// back to the full id.
func (s *Store) ShortestPrefix(id string) string {
	p, err := s.cache.ShortestUniquePrefix(id)
	if err != nil {
		return id
	}
	return p
}

// Push sends committed changes to the remote.
func (s *Store) Push(ctx context.Context) error {
	return s.db.Push(ctx)
}

// mutate runs fn in one transaction. Once the changes are committed the
// prefix cache is updated and the actions are announced.
func (s *Store) mutate(ctx context.Context, fn func(rw docdb.ReadWriter) ([]TaskAction, error)) ([]TaskAction, error) {
	var actions []TaskAction
	err := docdb.Update(s.db, func(rw docdb.ReadWriter) error {
		var err error
		actions, err = fn(rw)
		return err
	})
	if err != nil {
		var rerr *docdb.ReleaseError
		if !errors.As(err, &rerr) || !rerr.Committed() {
			return nil, err
		}
		s.config.Logger.Printf("Warning: %v", err)
	}

	s.track(ctx, actions)
	if len(actions) > 0 {
		s.config.Notifier.Notify(actions)
	}
	return actions, nil
}

// track mirrors actions into the prefix cache. The cache can always be
// rebuilt from the metadata, so failures are only logged.
func (s *Store) track(ctx context.Context, actions []TaskAction) {
	for _, a := range actions {
		var err error
		switch a.Kind {
		case ActionUpsert:
			err = s.cache.Insert(ctx, a.TaskID)
		case ActionDelete:
			err = s.cache.Remove(ctx, a.TaskID)
		}
		if err != nil {
			s.config.Logger.Printf("Warning: failed to update prefix cache for %s: %v", a.TaskID, err)
		}
	}
}
