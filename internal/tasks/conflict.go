package tasks

import (
	"errors"
	"log"
	"reflect"
	"sort"

	"github.com/o324/o324/internal/docdb"
)

// resolver returns the sync resolver keeping the store's invariants.
//
// Daily document conflicts are merged task by task: a task changed on
// one side only takes that side, a task changed on both takes the local
// version, and a modification beats a deletion. Afterwards every running
// task except the newest is ended, and the metadata is recomputed from
// the daily documents. Documents that cannot be parsed stay conflicted.
func resolver(logger *log.Logger) docdb.Resolver {
	return func(ed docdb.SyncEditor, conflicts *[]docdb.Conflict) error {
		var left []docdb.Conflict
		for _, c := range *conflicts {
			switch {
			case c.Key == MetadataKey:
				// Recomputed below
			case IsDayKey(c.Key):
				ok, err := mergeDaily(ed, c)
				if err != nil {
					return err
				}
				if !ok {
					left = append(left, c)
				}
			default:
				left = append(left, c)
			}
		}
		*conflicts = left

		days, err := repairCurrent(ed, logger)
		if err != nil {
			return err
		}
		return recomputeMetadata(ed, days)
	}
}

// mergeDaily resolves one daily document conflict in place. It returns
// false when a side cannot be parsed.
func mergeDaily(ed docdb.SyncEditor, c docdb.Conflict) (bool, error) {
	var sides [3]DailyDocument
	for i, data := range [][]byte{c.Previous, c.Local, c.Remote} {
		if len(data) > 0 {
			if err := ed.Decode(data, &sides[i]); err != nil {
				return false, nil
			}
		}
		if sides[i].Tasks == nil {
			sides[i].Tasks = make(map[string]Task)
		}
	}
	merged := mergeTasks(sides[0].Tasks, sides[1].Tasks, sides[2].Tasks)
	return true, writeDaily(ed, c.Key, DailyDocument{Tasks: merged})
}

// mergeTasks is a three-way merge keyed by task id.
func mergeTasks(base, local, remote map[string]Task) map[string]Task {
	ids := make(map[string]struct{})
	for _, m := range []map[string]Task{base, local, remote} {
		for id := range m {
			ids[id] = struct{}{}
		}
	}

	out := make(map[string]Task, len(ids))
	for id := range ids {
		b, inBase := base[id]
		l, inLocal := local[id]
		r, inRemote := remote[id]

		localChanged := inLocal != inBase || (inLocal && !reflect.DeepEqual(l, b))
		remoteChanged := inRemote != inBase || (inRemote && !reflect.DeepEqual(r, b))

		var keep Task
		var ok bool
		switch {
		case !localChanged:
			keep, ok = r, inRemote
		case !remoteChanged:
			keep, ok = l, inLocal
		case !inLocal:
			keep, ok = r, inRemote
		default:
			keep, ok = l, true
		}
		if ok {
			out[id] = keep
		}
	}
	return out
}

type dayTasks struct {
	doc   DailyDocument
	dirty bool
}

// repairCurrent ends every running task at the start of the next task
// in (start, id) order, leaving at most the newest one running. It
// returns the parsed daily documents.
func repairCurrent(ed docdb.SyncEditor, logger *log.Logger) (map[string]*dayTasks, error) {
	keys, err := ed.Keys()
	if err != nil {
		return nil, err
	}

	days := make(map[string]*dayTasks)
	type ref struct {
		day string
		id  string
	}
	var all []ref
	for _, key := range keys {
		if !IsDayKey(key) {
			continue
		}
		var doc DailyDocument
		if err := ed.Read(key, &doc); err != nil {
			if errors.Is(err, docdb.ErrCorrupted) {
				logger.Printf("Warning: skipping unreadable document %s: %v", key, err)
				continue
			}
			return nil, err
		}
		if doc.Tasks == nil {
			doc.Tasks = make(map[string]Task)
		}
		days[key] = &dayTasks{doc: doc}
		for id := range doc.Tasks {
			all = append(all, ref{day: key, id: id})
		}
	}

	task := func(r ref) Task { return days[r.day].doc.Tasks[r.id] }
	sort.Slice(all, func(i, j int) bool {
		a, b := task(all[i]), task(all[j])
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.ID < b.ID
	})

	// In (start, id) order the nearest later start is the next distinct
	// start value, or an equal one for ties broken by id.
	for i, r := range all {
		t := task(r)
		if !t.Running() || i == len(all)-1 {
			continue
		}
		end := task(all[i+1]).Start
		t.End = ptr(end)
		days[r.day].doc.Tasks[r.id] = t
		days[r.day].dirty = true
	}

	for key, d := range days {
		if d.dirty {
			if err := ed.Write(key, d.doc); err != nil {
				return nil, err
			}
		}
	}
	return days, nil
}

// recomputeMetadata rebuilds the metadata from the daily documents.
func recomputeMetadata(ed docdb.SyncEditor, days map[string]*dayTasks) error {
	meta := MetadataDocument{TaskRefs: []string{}}
	for _, d := range days {
		for id, t := range d.doc.Tasks {
			meta.TaskRefs = append(meta.TaskRefs, id)
			if t.Running() {
				meta.Current = ptr(id)
			}
		}
	}
	sort.Strings(meta.TaskRefs)

	var old MetadataDocument
	err := ed.Read(MetadataKey, &old)
	if err == nil {
		if old.TaskRefs == nil {
			old.TaskRefs = []string{}
		}
		if reflect.DeepEqual(old, meta) {
			return nil
		}
	} else if !errors.Is(err, docdb.ErrNotFound) && !errors.Is(err, docdb.ErrCorrupted) {
		return err
	}
	return ed.Write(MetadataKey, meta)
}
