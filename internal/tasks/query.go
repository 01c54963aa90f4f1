package tasks

import (
	"fmt"
	"sort"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/ids"
)

const dayMillis = 24 * 60 * 60 * 1000

// ListLastTasks returns up to n tasks, newest first, after skipping the
// offset newest ones.
func (s *Store) ListLastTasks(offset, n int) ([]Task, error) {
	if offset < 0 || n <= 0 {
		return []Task{}, nil
	}
	want := offset + n

	var out []Task
	err := s.db.View(func(r docdb.Reader) error {
		days, err := dayKeys(r, true)
		if err != nil {
			return err
		}
		for _, day := range days {
			if len(out) >= want {
				break
			}
			tasks, err := dayTasksDesc(r, day)
			if err != nil {
				return err
			}
			out = append(out, tasks...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if offset >= len(out) {
		return []Task{}, nil
	}
	out = out[offset:]
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// dayTasksDesc returns the tasks of day whose ids fall within the day,
// newest first.
func dayTasksDesc(r docdb.Reader, day string) ([]Task, error) {
	start, err := ids.DayStart(day)
	if err != nil {
		return nil, err
	}
	lo, err := ids.BoundaryFromTimestamp(start, ids.Lowest)
	if err != nil {
		return nil, err
	}
	hi, err := ids.BoundaryFromTimestamp(start+dayMillis, ids.Lowest)
	if err != nil {
		return nil, err
	}

	doc, err := readDaily(r, day)
	if err != nil {
		return nil, err
	}

	from, to := lo.String(), hi.String()
	keys := make([]string, 0, len(doc.Tasks))
	for id := range doc.Tasks {
		if id >= from && id < to {
			keys = append(keys, id)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	tasks := make([]Task, 0, len(keys))
	for _, id := range keys {
		tasks = append(tasks, doc.Tasks[id])
	}
	return tasks, nil
}

// ListTasksRange returns the tasks created in [from, to), both in unix
// milliseconds, oldest first.
func (s *Store) ListTasksRange(from, to int64) ([]Task, error) {
	if to <= from {
		return []Task{}, nil
	}
	lo, err := ids.BoundaryFromTimestamp(from, ids.Lowest)
	if err != nil {
		return nil, fmt.Errorf("failed to bound range: %w", err)
	}
	hi, err := ids.BoundaryFromTimestamp(to, ids.Lowest)
	if err != nil {
		return nil, fmt.Errorf("failed to bound range: %w", err)
	}
	lower, upper := lo.String(), hi.String()

	out := []Task{}
	err = s.db.View(func(r docdb.Reader) error {
		meta, err := readMetadata(r)
		if err != nil {
			return err
		}
		i := sort.SearchStrings(meta.TaskRefs, lower)
		j := sort.SearchStrings(meta.TaskRefs, upper)

		docs := make(map[string]DailyDocument)
		for _, id := range meta.TaskRefs[i:j] {
			day, err := ids.Day(id)
			if err != nil {
				return err
			}
			doc, ok := docs[day]
			if !ok {
				if doc, err = readDaily(r, day); err != nil {
					return err
				}
				docs[day] = doc
			}
			if task, ok := doc.Tasks[id]; ok {
				out = append(out, task)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
