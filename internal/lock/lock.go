// Package lock provides the cross-process write lock of a store.
//
// The lock is an advisory file lock (flock on unix, LockFileEx on
// windows) on a fixed file inside the repository's metadata directory.
// Every process that opens the same repository contends for the same
// file, and because the lock belongs to an open file description, two
// SystemLock values in one process exclude each other too.
//
// Acquisition never blocks: TryAcquire either takes the lock or fails
// with ErrLocked, and callers own any retry policy.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the repository metadata
// directory.
const FileName = "o324.lock"

// ErrLocked is returned by TryAcquire when another holder has the lock.
var ErrLocked = errors.New("store is locked by another process")

// HeldError reports who holds a lock when that is known.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s (pid %d holds %s)", ErrLocked, e.PID, e.Path)
	}
	return fmt.Sprintf("%s (%s)", ErrLocked, e.Path)
}

func (e *HeldError) Unwrap() error { return ErrLocked }

// SystemLock is a named lock shared by every process on the machine.
type SystemLock struct {
	path string
	flk  *flock.Flock

	mu   sync.Mutex
	held bool
}

// New returns the lock stored at path. Nothing is acquired yet.
func New(path string) *SystemLock {
	return &SystemLock{
		path: path,
		flk:  flock.New(path),
	}
}

// Name returns the lock file path, which identifies the lock.
func (l *SystemLock) Name() string {
	return l.path
}

// TryAcquire takes the lock without waiting.
func (l *SystemLock) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return &HeldError{Path: l.path, PID: os.Getpid()}
	}

	locked, err := l.flk.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.path, err)
	}
	if !locked {
		pid, _ := readPID(l.pidPath())
		return &HeldError{Path: l.path, PID: pid}
	}

	l.held = true

	// Holder PID is diagnostic only; failing to record it is harmless
	_ = os.WriteFile(l.pidPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)

	return nil
}

// Release gives the lock up. Calling it on a lock that is not held is a
// no-op, so it is safe from deferred and finalizer paths alike.
func (l *SystemLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}

	_ = os.Remove(l.pidPath())

	if err := l.flk.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	l.held = false
	return nil
}

// Held reports whether this value currently holds the lock.
func (l *SystemLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Holder returns the PID recorded by the current holder and whether that
// process still appears to be running. pid is 0 when nobody recorded one.
func (l *SystemLock) Holder() (pid int, alive bool) {
	pid, err := readPID(l.pidPath())
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, processAlive(pid)
}

func (l *SystemLock) pidPath() string {
	return l.path + ".pid"
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
