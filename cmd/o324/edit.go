package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/ui"
)

var editCmd = &cobra.Command{
	Use:     "edit REF",
	GroupID: "tasks",
	Short:   "Change a task",
	Long: `Change the fields of a task. Only the given flags are applied.

Examples:
  o324 edit @last --name "code review" --project o324
  o324 edit 01HK2Q --start 09:00 --end 10:15
  o324 edit current --tag meeting --tag remote
  o324 edit @2 --interactive`,
	Args: cobra.ExactArgs(1),
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

		var update tasks.TaskUpdate
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			task, err := s.store.GetTask(id)
			if err != nil {
				return err
			}
			if update, err = editForm(task); err != nil {
				return err
			}
		} else if update, err = updateFromFlags(cmd); err != nil {
			return err
		}
		if update.Empty() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Nothing to change\n", ui.RenderMuted("-"))
			return nil
		}

		task, _, err := s.store.EditTask(cmd.Context(), id, update)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Updated\n", ui.RenderPass("✓"))
		fmt.Fprint(cmd.OutOrStdout(), ui.TaskDetail(task, s.store.ShortestPrefix(task.ID), time.Now().UnixMilli()))
		return nil
	},
}

func updateFromFlags(cmd *cobra.Command) (tasks.TaskUpdate, error) {
	var update tasks.TaskUpdate
	flags := cmd.Flags()

	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		update.TaskName = &name
	}
	if flags.Changed("project") {
		project, _ := flags.GetString("project")
		update.Project = &project
	}
	if flags.Changed("tag") {
		tagList, _ := flags.GetStringSlice("tag")
		update.Tags = &tagList
	}
	if noTags, _ := flags.GetBool("no-tags"); noTags {
		update.Tags = &[]string{}
	}
	for _, f := range []struct {
		name string
		dst  **int64
	}{{"start", &update.Start}, {"end", &update.End}} {
		if !flags.Changed(f.name) {
			continue
		}
		at, err := timeFlag(cmd, f.name)
		if err != nil {
			return update, err
		}
		*f.dst = &at
	}
	update.Resume, _ = flags.GetBool("resume")
	if update.Resume && update.End != nil {
		return update, errors.New("--resume and --end are mutually exclusive")
	}
	return update, nil
}

// editForm asks for every field of t on the terminal.
func editForm(t tasks.Task) (tasks.TaskUpdate, error) {
	if !ui.IsTerminal(os.Stdin) {
		return tasks.TaskUpdate{}, errors.New("--interactive needs a terminal")
	}

	now := time.Now()
	name := t.TaskName
	project := ""
	if t.Project != nil {
		project = *t.Project
	}
	tagText := strings.Join(t.Tags, " ")
	startText := ui.FormatTime(t.Start)
	endText := ""
	if t.End != nil {
		endText = ui.FormatTime(*t.End)
	}
	validTime := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		_, err := parseTime(s, now)
		return err
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Value(&name).Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("name is required")
				}
				return nil
			}),
			huh.NewInput().Title("Project").Description("Empty for none").Value(&project),
			huh.NewInput().Title("Tags").Description("Separated by spaces").Value(&tagText),
			huh.NewInput().Title("Start").Value(&startText).Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("start is required")
				}
				return validTime(s)
			}),
			huh.NewInput().Title("End").Description("Empty while running").Value(&endText).Validate(validTime),
		),
	)
	if err := form.Run(); err != nil {
		return tasks.TaskUpdate{}, err
	}

	tagList := strings.Fields(tagText)
	update := tasks.TaskUpdate{
		TaskName: &name,
		Project:  &project,
		Tags:     &tagList,
	}
	// Unchanged times keep their full precision
	if startText != ui.FormatTime(t.Start) {
		start, err := parseTime(startText, now)
		if err != nil {
			return update, err
		}
		update.Start = &start
	}
	switch {
	case strings.TrimSpace(endText) == "":
		update.Resume = t.End != nil
	case t.End == nil || endText != ui.FormatTime(*t.End):
		end, err := parseTime(endText, now)
		if err != nil {
			return update, err
		}
		update.End = &end
	}
	return update, nil
}

func init() {
	editCmd.Flags().String("name", "", "New task name")
	editCmd.Flags().String("project", "", "New project (empty clears it)")
	editCmd.Flags().StringSlice("tag", nil, "Replace the tags (repeatable)")
	editCmd.Flags().Bool("no-tags", false, "Remove every tag")
	editCmd.Flags().String("start", "", "New start time")
	editCmd.Flags().String("end", "", "New end time")
	editCmd.Flags().Bool("resume", false, "Make the task running again")
	editCmd.Flags().BoolP("interactive", "i", false, "Edit the task in a form")

	rootCmd.AddCommand(editCmd)
}
