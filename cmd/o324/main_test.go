package main

import (
	"bytes"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/vcs"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.Local)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"now", now},
		{"2024-01-01 18:30", time.Date(2024, 1, 1, 18, 30, 0, 0, time.Local)},
		{"2024-01-01T18:30", time.Date(2024, 1, 1, 18, 30, 0, 0, time.Local)},
		{"2024-01-01T18:30:00Z", time.Date(2024, 1, 1, 18, 30, 0, 0, time.UTC)},
		{"09:15", time.Date(2024, 1, 2, 9, 15, 0, 0, time.Local)},
		{"1704189600000", time.UnixMilli(1704189600000)},
		{"10 minutes ago", now.Add(-10 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want.UnixMilli(), got)
		})
	}

	for _, in := range []string{"", "   ", "not a time at all"} {
		_, err := parseTime(in, now)
		assert.Error(t, err, in)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommandFlow(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	fsys = afero.NewMemMapFs()
	t.Cleanup(func() { fsys = afero.NewOsFs(); cfgFile = "" })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("O324_REPOSITORY_PATH", t.TempDir())
	// Nothing listens here, so forwarded actions are dropped
	t.Setenv("O324_DAEMON_ADDR", "127.0.0.1:1")

	out, err := run(t, "start", "too", "early")
	require.Error(t, err, "start before init")

	out, err = run(t, "init")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Initialized task repository")

	out, err = run(t, "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No task is running")

	out, err = run(t, "start", "write", "docs", "-p", "o324", "-t", "docs")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Started")
	assert.Contains(t, out, "write docs")

	_, err = run(t, "start", "another")
	assert.ErrorIs(t, err, tasks.ErrAlreadyRunning)

	out, err = run(t, "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "write docs (running)")
	assert.Contains(t, out, "#docs")

	out, err = run(t, "stop")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Stopped")

	out, err = run(t, "stop")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No task is running")

	out, err = run(t, "edit", "@last", "--name", "review")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Updated")

	out, err = run(t, "show", "@last")
	require.NoError(t, err, out)
	assert.Contains(t, out, "review (done)")

	out, err = run(t, "restart")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Restarted review")

	out, err = run(t, "log", "-n", "5")
	require.NoError(t, err, out)
	assert.Contains(t, out, "review")
	assert.Contains(t, out, "2 tasks")

	out, err = run(t, "cancel")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Cancelled review")

	out, err = run(t, "delete", "@last")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Deleted")

	out, err = run(t, "log")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No tasks")

	_, err = run(t, "show", "zzz")
	assert.ErrorIs(t, err, tasks.ErrNotFound)

	out, err = run(t, "config", "show")
	require.NoError(t, err, out)
	assert.Contains(t, out, `backend = "git"`)

	out, err = run(t, "config", "init", "--config", "/etc/o324.toml")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote /etc/o324.toml")
	exists, err := afero.Exists(fsys, "/etc/o324.toml")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = run(t, "config", "init", "--config", "/etc/o324.toml")
	assert.Error(t, err)
}

func TestSyncWithoutRemote(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	fsys = afero.NewMemMapFs()
	t.Cleanup(func() { fsys = afero.NewOsFs(); cfgFile = "" })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("O324_REPOSITORY_PATH", t.TempDir())
	t.Setenv("O324_DAEMON_ADDR", "127.0.0.1:1")

	_, err := run(t, "init")
	require.NoError(t, err)

	_, err = run(t, "sync")
	assert.Error(t, err)
}

func TestMemoryBackendIsDaemonOnly(t *testing.T) {
	fsys = afero.NewMemMapFs()
	t.Cleanup(func() { fsys = afero.NewOsFs(); cfgFile = "" })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("O324_STORAGE_BACKEND", "memory")

	_, err := run(t, "status")
	assert.ErrorIs(t, err, errMemoryBackend)
}

func TestPushError(t *testing.T) {
	err := pushError(vcs.ErrPushRejected)
	assert.ErrorIs(t, err, vcs.ErrPushRejected)
	assert.Contains(t, err.Error(), "o324 sync")

	other := errors.New("boom")
	assert.Equal(t, other, pushError(other))
}

func TestConflictError(t *testing.T) {
	assert.NoError(t, conflictError(&docdb.SyncReport{}))

	err := conflictError(&docdb.SyncReport{Conflicts: []docdb.Conflict{{Key: "2024-01-02"}, {Key: "metadata"}}})
	assert.ErrorIs(t, err, docdb.ErrConflicts)
	assert.True(t, docdb.IsUserActionRequired(err))
	assert.EqualError(t, err, "unresolved conflicts: 2024-01-02, metadata")

	var ce *docdb.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Conflicts, 2)
}
