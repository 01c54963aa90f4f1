package tasks

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/ids"
)

// MetadataKey is the key of the metadata document.
const MetadataKey = "__metadata"

// DailyDocument holds the tasks of one UTC day.
type DailyDocument struct {
	Tasks map[string]Task `json:"tasks" yaml:"tasks" toml:"tasks" validate:"required,dive"`
}

// Validate is run by docdb after decoding. Every task must be filed under
// its own id.
func (d *DailyDocument) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid daily document: %s", describe(err))
	}
	for key, t := range d.Tasks {
		if t.ID != key {
			return fmt.Errorf("invalid daily document: task %s is stored under %s", t.ID, key)
		}
	}
	return nil
}

// MetadataDocument holds the running task and every known id.
type MetadataDocument struct {
	Current  *string  `json:"current" yaml:"current" toml:"current,omitempty" validate:"omitempty,ulid"`
	TaskRefs []string `json:"task_refs" yaml:"task_refs" toml:"task_refs" validate:"required,dive,ulid"`
}

// Validate is run by docdb after decoding.
func (m *MetadataDocument) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid metadata document: %s", describe(err))
	}
	return nil
}

// HasRef reports whether id is a known task.
func (m *MetadataDocument) HasRef(id string) bool {
	i := sort.SearchStrings(m.TaskRefs, id)
	return i < len(m.TaskRefs) && m.TaskRefs[i] == id
}

// AddRef inserts id, keeping refs sorted and unique.
func (m *MetadataDocument) AddRef(id string) {
	i := sort.SearchStrings(m.TaskRefs, id)
	if i < len(m.TaskRefs) && m.TaskRefs[i] == id {
		return
	}
	m.TaskRefs = append(m.TaskRefs, "")
	copy(m.TaskRefs[i+1:], m.TaskRefs[i:])
	m.TaskRefs[i] = id
}

// RemoveRef deletes id.
func (m *MetadataDocument) RemoveRef(id string) {
	i := sort.SearchStrings(m.TaskRefs, id)
	if i < len(m.TaskRefs) && m.TaskRefs[i] == id {
		m.TaskRefs = append(m.TaskRefs[:i], m.TaskRefs[i+1:]...)
	}
}

// IsDayKey reports whether key names a daily document.
func IsDayKey(key string) bool {
	_, err := time.Parse(ids.DayLayout, key)
	return err == nil
}

func readDaily(r docdb.Reader, day string) (DailyDocument, error) {
	var doc DailyDocument
	if err := r.Read(day, &doc); err != nil && !errors.Is(err, docdb.ErrNotFound) {
		return DailyDocument{}, err
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]Task)
	}
	return doc, nil
}

// writeDaily stores doc, removing the file once the day has no tasks.
func writeDaily(rw docdb.ReadWriter, day string, doc DailyDocument) error {
	if len(doc.Tasks) == 0 {
		return rw.Remove(day)
	}
	return rw.Write(day, doc)
}

func readMetadata(r docdb.Reader) (MetadataDocument, error) {
	var meta MetadataDocument
	if err := r.Read(MetadataKey, &meta); err != nil && !errors.Is(err, docdb.ErrNotFound) {
		return MetadataDocument{}, err
	}
	if meta.TaskRefs == nil {
		meta.TaskRefs = []string{}
	}
	sort.Strings(meta.TaskRefs)
	return meta, nil
}

func writeMetadata(rw docdb.ReadWriter, meta MetadataDocument) error {
	if meta.TaskRefs == nil {
		meta.TaskRefs = []string{}
	}
	return rw.Write(MetadataKey, meta)
}

// dayKeys lists daily document keys, newest first when desc is set.
func dayKeys(r docdb.Reader, desc bool) ([]string, error) {
	keys, err := r.Keys()
	if err != nil {
		return nil, err
	}
	days := keys[:0:0]
	for _, k := range keys {
		if IsDayKey(k) {
			days = append(days, k)
		}
	}
	sort.Strings(days)
	if desc {
		for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
			days[i], days[j] = days[j], days[i]
		}
	}
	return days, nil
}
