package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:     "delete REF",
	GroupID: "tasks",
	Short:   "Delete a task",
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
		if _, err := s.store.DeleteTask(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s %s\n", ui.RenderWarn("✗"), id, task.TaskName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
