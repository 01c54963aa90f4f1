package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/o324/o324/internal/tasks"
)

// TimeLayout is how task times are shown, in local time.
const TimeLayout = "2006-01-02 15:04"

// PrefixFunc returns the shortest unique prefix of a task id.
type PrefixFunc func(id string) string

// FormatTime formats unix milliseconds in local time.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format(TimeLayout)
}

// FormatDuration formats milliseconds as hours and minutes, e.g. 1h05m.
func FormatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		if m == 0 {
			return fmt.Sprintf("%ds", int(d/time.Second))
		}
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

func project(t tasks.Task) string {
	if t.Project == nil {
		return ""
	}
	return *t.Project
}

func tags(t tasks.Task) string {
	if len(t.Tags) == 0 {
		return ""
	}
	return "#" + strings.Join(t.Tags, " #")
}

// TaskTable writes tasks as a table, newest first as given.
func TaskTable(w io.Writer, list []tasks.Task, prefix PrefixFunc, now int64) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"ID", "Task", "Project", "Tags", "Start", "End", "Duration"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Task", WidthMax: 40},
		{Name: "Duration", Align: text.AlignRight},
	})

	var total int64
	for _, t := range list {
		end := RenderRunning("running")
		if t.End != nil {
			end = FormatTime(*t.End)
		}
		total += t.Duration(now)
		tw.AppendRow(table.Row{
			RenderID(t.ID, prefix(t.ID)),
			t.TaskName,
			project(t),
			tags(t),
			FormatTime(t.Start),
			end,
			FormatDuration(t.Duration(now)),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d tasks", len(list)), FormatDuration(total)})
	tw.Render()
}

// TaskDetail describes one task on several lines.
func TaskDetail(t tasks.Task, prefix string, now int64) string {
	var sb strings.Builder
	status := RenderRunning("running")
	if t.End != nil {
		status = RenderPass("done")
	}
	fmt.Fprintf(&sb, "%s %s (%s)\n", RenderID(t.ID, prefix), RenderTitle(t.TaskName), status)
	if p := project(t); p != "" {
		fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("project: "), p)
	}
	if tg := tags(t); tg != "" {
		fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("tags:    "), tg)
	}
	fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("start:   "), FormatTime(t.Start))
	if t.End != nil {
		fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("end:     "), FormatTime(*t.End))
	}
	fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("duration:"), FormatDuration(t.Duration(now)))
	if t.ComputerName != nil {
		fmt.Fprintf(&sb, "  %s %s\n", RenderMuted("host:    "), *t.ComputerName)
	}
	return sb.String()
}
