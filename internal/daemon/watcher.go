package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RefEvent reports that a watched git reference may have moved.
type RefEvent struct {
	// Path is the file that changed
	Path string

	// Ref is the reference name, such as HEAD or refs/heads/main
	Ref string
}

// RefWatcher watches a git directory for commits, resets and ref
// updates made by any process.
type RefWatcher struct {
	watcher *fsnotify.Watcher
	events  chan RefEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	gitDir  string
	branch  string
}

// NewRefWatcher creates a watcher for branch inside gitDir. The watcher
// must be started with Start() before it will emit events.
func NewRefWatcher(gitDir, branch string) (*RefWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(gitDir)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve git directory: %w", err)
	}

	return &RefWatcher{
		watcher: watcher,
		events:  make(chan RefEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		gitDir:  abs,
		branch:  branch,
	}, nil
}

// Start begins watching the git directory and its branch heads.
func (rw *RefWatcher) Start() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}

	// Git replaces ref files by renaming a lock file over them, so the
	// directories are watched rather than the files
	if err := rw.watcher.Add(rw.gitDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", rw.gitDir, err)
	}
	heads := filepath.Join(rw.gitDir, "refs", "heads")
	if err := rw.watcher.Add(heads); err != nil {
		_ = rw.watcher.Remove(rw.gitDir)
		return fmt.Errorf("failed to watch %s: %w", heads, err)
	}

	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (rw *RefWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return rw.watcher.Close()
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)

	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	rw.wg.Wait()

	close(rw.events)
	close(rw.errors)

	return nil
}

// Events returns the channel of ref changes. It is closed on Stop.
func (rw *RefWatcher) Events() <-chan RefEvent {
	return rw.events
}

// Errors returns the channel of watcher errors. It is closed on Stop.
func (rw *RefWatcher) Errors() <-chan error {
	return rw.errors
}

// IsRunning returns true if the watcher is currently running.
func (rw *RefWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}

func (rw *RefWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}

			if refEvent, ok := rw.convertEvent(event); ok {
				select {
				case rw.events <- refEvent:
				case <-rw.done:
					return
				}
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}

// convertEvent keeps the events that can move the watched branch.
func (rw *RefWatcher) convertEvent(event fsnotify.Event) (RefEvent, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return RefEvent{}, false
	}
	if strings.HasSuffix(event.Name, ".lock") {
		return RefEvent{}, false
	}

	ref, ok := rw.refName(event.Name)
	if !ok {
		return RefEvent{}, false
	}
	return RefEvent{Path: event.Name, Ref: ref}, true
}

func (rw *RefWatcher) refName(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(rw.gitDir, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	switch rel {
	case "HEAD", "ORIG_HEAD", "packed-refs":
		return rel, true
	case "refs/heads/" + rw.branch:
		return rel, true
	}
	return "", false
}
