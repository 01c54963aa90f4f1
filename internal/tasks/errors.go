package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrInvariantViolation is returned when an operation would break a
	// store invariant. The store is left unchanged.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrAlreadyRunning is returned when a task is started while another
	// one runs.
	ErrAlreadyRunning = fmt.Errorf("%w: a task is already running", ErrInvariantViolation)

	// ErrNoCurrentTask is returned when "current" is resolved with no
	// running task.
	ErrNoCurrentTask = errors.New("no task currently running")

	// ErrInvalidTask is returned for tasks that fail validation.
	ErrInvalidTask = errors.New("invalid task")
)
