package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/ids"
	"github.com/o324/o324/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "tasks",
	Short:   "Show the running task",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		current, err := s.store.CurrentTask()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if current == nil {
			fmt.Fprintf(out, "%s No task is running\n", ui.RenderMuted("-"))
			return nil
		}
		fmt.Fprint(out, ui.TaskDetail(*current, s.store.ShortestPrefix(current.ID), ids.Now()))
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "tasks",
	Short:   "List recent tasks, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("number")
		offset, _ := cmd.Flags().GetInt("offset")
		if n < 0 || offset < 0 {
			return fmt.Errorf("--number and --offset must not be negative")
		}

		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		list, err := s.store.ListLastTasks(offset, n)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s No tasks\n", ui.RenderMuted("-"))
			return nil
		}
		ui.TaskTable(cmd.OutOrStdout(), list, s.store.ShortestPrefix, ids.Now())
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show REF",
	GroupID: "tasks",
	Short:   "Show one task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), openOptions{})
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.store.Resolve(args[0])
		if err != nil {
			return err
		}
		task, err := s.store.GetTask(id)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.TaskDetail(task, s.store.ShortestPrefix(id), ids.Now()))
		return nil
	},
}

func init() {
	logCmd.Flags().IntP("number", "n", 10, "Number of tasks to show")
	logCmd.Flags().Int("offset", 0, "Number of newest tasks to skip")

	rootCmd.AddCommand(statusCmd, logCmd, showCmd)
}
