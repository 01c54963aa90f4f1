package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o324/o324/internal/tasks"
)

func ptr[T any](v T) *T { return &v }

func TestStylesRenderColors(t *testing.T) {
	lipgloss.SetColorProfile(termenv.ANSI256)
	defer DisableColor()

	out := RenderPass("ok")
	assert.Contains(t, out, "ok")
	assert.NotEqual(t, "ok", out)

	DisableColor()
	assert.Equal(t, "ok", RenderPass("ok"))
}

func TestSetupDisablesColorForFiles(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTerminal(f))
	Setup(f)
	assert.Equal(t, "plain", RenderFail("plain"))
}

func TestRenderID(t *testing.T) {
	DisableColor()
	assert.Equal(t, "01HK12", RenderID("01HK12", "01H"))
	assert.Equal(t, "01HK12", RenderID("01HK12", "XYZ"))
	assert.Equal(t, "01HK12", RenderID("01HK12", "01HK1234"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "42s", FormatDuration(42_000))
	assert.Equal(t, "5m", FormatDuration(5*60_000+10_000))
	assert.Equal(t, "1h05m", FormatDuration(65*60_000))
	assert.Equal(t, "26h00m", FormatDuration(26*3_600_000))
}

func TestTaskTable(t *testing.T) {
	DisableColor()
	now := int64(1704189600000)
	list := []tasks.Task{
		{ID: "01HK2QZ4000000000000000002", TaskName: "running task", Tags: []string{}, Start: now - 60_000},
		{ID: "01HK2QZ4000000000000000001", TaskName: "review", Project: ptr("o324"), Tags: []string{"code", "pr"}, Start: now - 3_600_000, End: ptr(now - 60_000)},
	}

	var buf bytes.Buffer
	TaskTable(&buf, list, func(id string) string { return id[:4] }, now)
	out := buf.String()

	assert.Contains(t, out, "running task")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "#code #pr")
	assert.Contains(t, out, "59m")
	assert.Contains(t, out, "2 tasks")
	assert.Contains(t, out, "1h00m")
}

func TestTaskDetail(t *testing.T) {
	DisableColor()
	now := int64(1704189600000)
	task := tasks.Task{
		ID: "01HK2QZ4000000000000000001", TaskName: "review", Project: ptr("o324"),
		Tags: []string{"pr"}, Start: now - 90_000, End: ptr(now), ComputerName: ptr("laptop"),
	}

	out := TaskDetail(task, "01HK", now)
	assert.Contains(t, out, "review (done)")
	assert.Contains(t, out, "o324")
	assert.Contains(t, out, "#pr")
	assert.Contains(t, out, "1m")
	assert.Contains(t, out, "laptop")
}
