package tasks

import (
	"context"
	"errors"
	"os/exec"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o324/o324/internal/docdb"
)

// memEditor is a SyncEditor over a plain map of encoded documents.
type memEditor struct {
	docs map[string][]byte
}

func (e *memEditor) Read(key string, v any) error {
	data, ok := e.docs[key]
	if !ok {
		return docdb.ErrNotFound
	}
	if err := docdb.Decode(docdb.JSONParser{}, data, v); err != nil {
		return &docdb.CorruptedError{Key: key, Err: err}
	}
	return nil
}

func (e *memEditor) Keys() ([]string, error) {
	keys := make([]string, 0, len(e.docs))
	for k := range e.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (e *memEditor) Write(key string, v any) error {
	data, err := (docdb.JSONParser{}).Marshal(v)
	if err != nil {
		return err
	}
	e.docs[key] = data
	return nil
}

func (e *memEditor) Remove(key string) error {
	delete(e.docs, key)
	return nil
}

func (e *memEditor) Decode(data []byte, v any) error {
	return docdb.Decode(docdb.JSONParser{}, data, v)
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := (docdb.JSONParser{}).Marshal(v)
	require.NoError(t, err)
	return data
}

func TestMergeTasks(t *testing.T) {
	a := newTask(t, t0, "a", ptr(t0+1))
	b := newTask(t, t0+10, "b", ptr(t0+11))
	c := newTask(t, t0+20, "c", ptr(t0+21))
	renamed := func(task Task, name string) Task {
		task.TaskName = name
		return task
	}

	cases := []struct {
		name                string
		base, local, remote map[string]Task
		want                map[string]Task
	}{
		{
			name:   "added on both sides",
			base:   map[string]Task{},
			local:  map[string]Task{a.ID: a},
			remote: map[string]Task{b.ID: b},
			want:   map[string]Task{a.ID: a, b.ID: b},
		},
		{
			name:   "changed remotely only",
			base:   map[string]Task{a.ID: a},
			local:  map[string]Task{a.ID: a},
			remote: map[string]Task{a.ID: renamed(a, "remote")},
			want:   map[string]Task{a.ID: renamed(a, "remote")},
		},
		{
			name:   "changed on both sides",
			base:   map[string]Task{a.ID: a},
			local:  map[string]Task{a.ID: renamed(a, "local")},
			remote: map[string]Task{a.ID: renamed(a, "remote")},
			want:   map[string]Task{a.ID: renamed(a, "local")},
		},
		{
			name:   "deleted locally modified remotely",
			base:   map[string]Task{a.ID: a},
			local:  map[string]Task{},
			remote: map[string]Task{a.ID: renamed(a, "remote")},
			want:   map[string]Task{a.ID: renamed(a, "remote")},
		},
		{
			name:   "modified locally deleted remotely",
			base:   map[string]Task{a.ID: a, c.ID: c},
			local:  map[string]Task{a.ID: renamed(a, "local"), c.ID: c},
			remote: map[string]Task{c.ID: c},
			want:   map[string]Task{a.ID: renamed(a, "local"), c.ID: c},
		},
		{
			name:   "deleted on one side only",
			base:   map[string]Task{a.ID: a, c.ID: c},
			local:  map[string]Task{a.ID: a},
			remote: map[string]Task{a.ID: a, c.ID: c},
			want:   map[string]Task{a.ID: a},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, mergeTasks(tc.base, tc.local, tc.remote))
		})
	}
}

func TestResolverRepairsCurrentTask(t *testing.T) {
	x := newTask(t, t0, "x", nil)
	y := newTask(t, t0+dayMillis, "y", nil)
	done := newTask(t, t0+dayMillis/2, "done", ptr(t0+dayMillis/2+5))

	dayX, _ := x.Day()
	dayY, _ := y.Day()
	ed := &memEditor{docs: map[string][]byte{
		dayX:        encode(t, DailyDocument{Tasks: map[string]Task{x.ID: x, done.ID: done}}),
		dayY:        encode(t, DailyDocument{Tasks: map[string]Task{y.ID: y}}),
		MetadataKey: encode(t, MetadataDocument{Current: ptr(x.ID), TaskRefs: []string{x.ID}}),
		"notes":     []byte("{}"),
	}}

	conflicts := []docdb.Conflict{
		{Key: MetadataKey},
		{Key: "notes"},
	}
	require.NoError(t, resolver(discard)(ed, &conflicts))
	assert.Equal(t, []docdb.Conflict{{Key: "notes"}}, conflicts, "only foreign documents stay conflicted")

	var docX DailyDocument
	require.NoError(t, ed.Read(dayX, &docX))
	require.NotNil(t, docX.Tasks[x.ID].End)
	assert.Equal(t, done.Start, *docX.Tasks[x.ID].End, "ended at the next task's start")

	var docY DailyDocument
	require.NoError(t, ed.Read(dayY, &docY))
	assert.True(t, docY.Tasks[y.ID].Running())

	var meta MetadataDocument
	require.NoError(t, ed.Read(MetadataKey, &meta))
	require.NotNil(t, meta.Current)
	assert.Equal(t, y.ID, *meta.Current)
	want := []string{x.ID, done.ID, y.ID}
	sort.Strings(want)
	assert.Equal(t, want, meta.TaskRefs)
}

func TestResolverKeepsUnparsableConflicts(t *testing.T) {
	a := newTask(t, t0, "a", ptr(t0+1))
	day, _ := a.Day()
	remote := encode(t, DailyDocument{Tasks: map[string]Task{a.ID: a}})
	ed := &memEditor{docs: map[string][]byte{day: remote}}

	conflicts := []docdb.Conflict{{Key: day, Local: []byte("{not json"), Remote: remote}}
	require.NoError(t, resolver(discard)(ed, &conflicts))
	require.Len(t, conflicts, 1)
	assert.Equal(t, remote, ed.docs[day], "remote version is kept")
}

func setupSyncedStores(t *testing.T) (a, b *Store, clock *fakeClock) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if testing.Short() {
		t.Skip("skipping git sync test in short mode")
	}
	ctx := context.Background()

	origin := t.TempDir()
	out, err := exec.Command("git", "init", "-q", "--bare", "-b", "main", origin).CombinedOutput()
	require.NoError(t, err, string(out))

	clock = &fakeClock{now: t0}
	open := func() *Store {
		db, err := docdb.Init(ctx, t.TempDir(), origin, docdb.JSONParser{}, &docdb.Config{Logger: discard})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		s := New(db, newTestCache(), testConfig(clock, nil))
		require.NoError(t, s.Load(ctx))
		return s
	}

	a = open()
	require.NoError(t, a.Push(ctx))
	b = open()
	return a, b, clock
}

func TestSyncFastForwardAnnouncesTasks(t *testing.T) {
	ctx := context.Background()
	a, b, _ := setupSyncedStores(t)

	task, _, err := a.StartTask(ctx, StartOptions{Name: "from a"})
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))

	rec := &recorder{}
	b.SetNotifier(rec)
	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Report.FastForward)
	assert.Equal(t, []TaskAction{Upsert(task)}, result.Actions)
	assert.Equal(t, result.Actions, rec.take())

	id, err := b.Resolve(task.ID[:12])
	require.NoError(t, err, "prefix cache is rebuilt after sync")
	assert.Equal(t, task.ID, id)

	current, err := b.CurrentTask()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, task.ID, current.ID)

	// Nothing new on the remote
	result, err = b.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Report.UpToDate)
	assert.Empty(t, result.Actions)
}

func TestSyncConcurrentStartsKeepOneRunning(t *testing.T) {
	ctx := context.Background()
	a, b, clock := setupSyncedStores(t)

	x, _, err := a.StartTask(ctx, StartOptions{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))

	clock.Advance(10 * time.Minute)
	y, _, err := b.StartTask(ctx, StartOptions{Name: "y"})
	require.NoError(t, err)

	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Report.Conflicts)
	assert.Equal(t, 1, result.Report.Replayed)
	checkInvariants(t, b)

	gotX, err := b.GetTask(x.ID)
	require.NoError(t, err)
	require.NotNil(t, gotX.End)
	assert.Equal(t, y.Start, *gotX.End)

	current, err := b.CurrentTask()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, y.ID, current.ID)

	require.NoError(t, b.Push(ctx))

	// a catches up by fast-forward
	result, err = a.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, result.Report.FastForward)
	checkInvariants(t, a)
	current, err = a.CurrentTask()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, y.ID, current.ID)
}

func TestSyncModifyBeatsDelete(t *testing.T) {
	ctx := context.Background()
	a, b, clock := setupSyncedStores(t)

	task := newTask(t, t0, "shared", ptr(t0+1000))
	_, err := a.UpsertTask(ctx, task)
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))
	_, err = b.Sync(ctx)
	require.NoError(t, err)

	_, err = a.DeleteTask(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))

	clock.Advance(time.Minute)
	_, _, err = b.EditTask(ctx, task.ID, TaskUpdate{TaskName: ptr("renamed")})
	require.NoError(t, err)

	rec := &recorder{}
	b.SetNotifier(rec)
	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Report.Conflicts)
	checkInvariants(t, b)

	got, err := b.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.TaskName)

	for _, action := range rec.take() {
		assert.NotEqual(t, ActionDelete, action.Kind)
	}
}

func TestSyncAnnouncesRemoteDeletes(t *testing.T) {
	ctx := context.Background()
	a, b, _ := setupSyncedStores(t)

	task := newTask(t, t0, "gone", ptr(t0+1000))
	_, err := a.UpsertTask(ctx, task)
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))
	_, err = b.Sync(ctx)
	require.NoError(t, err)

	_, err = a.DeleteTask(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, a.Push(ctx))

	result, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.Contains(t, result.Actions, Delete(task.ID))

	_, err = b.GetTask(task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = b.Resolve(task.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
