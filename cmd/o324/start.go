package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/ui"
)

// timeFlag parses an optional time flag, returning zero when unset.
func timeFlag(cmd *cobra.Command, name string) (int64, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return 0, nil
	}
	return parseTime(s, time.Now())
}

var startCmd = &cobra.Command{
	Use:     "start NAME...",
	GroupID: "tasks",
	Short:   "Start a new task",
	Long: `Start a new task. The words of NAME are joined with spaces.

Fails when another task is running; stop it first.

Examples:
  o324 start write release notes -p o324 -t docs
  o324 start standup --at "10 minutes ago"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		tagList, _ := cmd.Flags().GetStringSlice("tag")
		at, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}

		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		opts := tasks.StartOptions{
			Name: strings.Join(args, " "),
			Tags: tagList,
			At:   at,
		}
		if project != "" {
			opts.Project = &project
		}
		task, _, err := s.store.StartTask(cmd.Context(), opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Started %s %s\n",
			ui.RenderPass("✓"), ui.RenderID(task.ID, s.store.ShortestPrefix(task.ID)), task.TaskName)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop",
	GroupID: "tasks",
	Short:   "Stop the running task",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}

		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		result, _, err := s.store.StopCurrentTask(cmd.Context(), at)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.NothingToDo {
			fmt.Fprintf(out, "%s No task is running\n", ui.RenderMuted("-"))
			return nil
		}
		t := result.Task
		fmt.Fprintf(out, "%s Stopped %s %s after %s\n", ui.RenderPass("✓"),
			ui.RenderID(t.ID, s.store.ShortestPrefix(t.ID)), t.TaskName, ui.FormatDuration(t.Duration(*t.End)))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:     "cancel",
	GroupID: "tasks",
	Short:   "Delete the running task",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		result, _, err := s.store.CancelCurrentTask(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.NothingToDo {
			fmt.Fprintf(out, "%s No task is running\n", ui.RenderMuted("-"))
			return nil
		}
		fmt.Fprintf(out, "%s Cancelled %s\n", ui.RenderWarn("✗"), result.Task.TaskName)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:     "restart [REF]",
	GroupID: "tasks",
	Short:   "Start a new task like an earlier one",
	Long: `Start a new task with the name, project and tags of REF, which
defaults to the newest task (@last).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := tasks.RefLast
		if len(args) == 1 {
			ref = args[0]
		}

		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		task, _, err := s.store.RestartTask(cmd.Context(), ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Restarted %s as %s\n",
			ui.RenderPass("✓"), task.TaskName, ui.RenderID(task.ID, s.store.ShortestPrefix(task.ID)))
		return nil
	},
}

func init() {
	startCmd.Flags().StringP("project", "p", "", "Project of the task")
	startCmd.Flags().StringSliceP("tag", "t", nil, "Tag of the task (repeatable)")
	startCmd.Flags().String("at", "", "Start time, e.g. \"09:30\" or \"10 minutes ago\" (default now)")
	stopCmd.Flags().String("at", "", "End time (default now)")

	rootCmd.AddCommand(startCmd, stopCmd, cancelCmd, restartCmd)
}
