package tasks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/o324/o324/internal/prefix"
)

// Reserved task references.
const (
	RefCurrent = "current"
	RefLast    = "@last"
)

// Resolve expands a task reference to a task id.
//
// A reference is one of:
//
//	current, @current   the running task
//	@last               the newest task
//	@N                  the Nth newest task, @0 being the newest
//	<prefix>            any unambiguous id prefix, case-insensitive
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == RefCurrent || ref == "@"+RefCurrent:
		meta, err := s.metadata()
		if err != nil {
			return "", err
		}
		if meta.Current == nil {
			return "", ErrNoCurrentTask
		}
		return *meta.Current, nil

	case ref == RefLast:
		return s.nthNewest(0)

	case strings.HasPrefix(ref, "@"):
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: invalid reference %q", ErrNotFound, ref)
		}
		return s.nthNewest(n)
	}

	id, err := s.cache.Resolve(strings.ToUpper(ref))
	if errors.Is(err, prefix.ErrNoMatch) {
		return "", fmt.Errorf("%w: no task matches %q", ErrNotFound, ref)
	}
	return id, err
}

func (s *Store) nthNewest(n int) (string, error) {
	meta, err := s.metadata()
	if err != nil {
		return "", err
	}
	if n >= len(meta.TaskRefs) {
		return "", fmt.Errorf("%w: only %d tasks", ErrNotFound, len(meta.TaskRefs))
	}
	return meta.TaskRefs[len(meta.TaskRefs)-1-n], nil
}
