// Package tasks is the task layer of the o324 store.
//
// Tasks are partitioned into one daily document per UTC day, keyed by the
// day encoded in each task id, plus a single metadata document holding
// the running task and the sorted set of every known id:
//
//	2024-01-02.json   {"tasks": {"01HK...": {...}, ...}}
//	__metadata.json   {"current": "01HK...", "task_refs": ["01HJ...", "01HK..."]}
//
// Every mutating operation runs in one docdb transaction, so each one is
// a single commit, and reports what changed as a list of TaskActions.
package tasks

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/o324/o324/internal/ids"
)

// Task is one time-boxed unit of work. A nil End means it is running.
type Task struct {
	ID           string   `json:"id" yaml:"id" toml:"id" validate:"required,ulid"`
	TaskName     string   `json:"task_name" yaml:"task_name" toml:"task_name" validate:"required,max=512"`
	Project      *string  `json:"project,omitempty" yaml:"project,omitempty" toml:"project,omitempty" validate:"omitempty,min=1"`
	Tags         []string `json:"tags" yaml:"tags" toml:"tags" validate:"dive,required"`
	Start        int64    `json:"start" yaml:"start" toml:"start" validate:"gte=0"`
	End          *int64   `json:"end,omitempty" yaml:"end,omitempty" toml:"end,omitempty"`
	ComputerName *string  `json:"computer_name,omitempty" yaml:"computer_name,omitempty" toml:"computer_name,omitempty"`
}

// Running reports whether the task has not ended.
func (t Task) Running() bool {
	return t.End == nil
}

// Day returns the key of the daily document owning the task.
func (t Task) Day() (string, error) {
	return ids.Day(t.ID)
}

// Duration returns the elapsed milliseconds, measured to now for a
// running task.
func (t Task) Duration(now int64) int64 {
	end := now
	if t.End != nil {
		end = *t.End
	}
	if end < t.Start {
		return 0
	}
	return end - t.Start
}

// normalize gives optional collections their canonical empty form so
// that documents encode identically whatever the caller passed.
func (t *Task) normalize() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Project != nil && *t.Project == "" {
		t.Project = nil
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("ulid", func(fl validator.FieldLevel) bool {
		_, err := ids.Parse(fl.Field().String())
		return err == nil
	})
}

// describe flattens validator errors into one line.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, fmt.Sprintf("field '%s' fails rule '%s'", e.Namespace(), e.Tag()))
	}
	return strings.Join(messages, "; ")
}

// Validate checks a task before it is written.
func (t Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTask, describe(err))
	}
	if t.End != nil && *t.End < t.Start {
		return fmt.Errorf("%w: end %d is before start %d", ErrInvalidTask, *t.End, t.Start)
	}
	return nil
}

// TaskUpdate is a partial change to a task. Nil fields are left alone.
type TaskUpdate struct {
	TaskName *string   `json:"task_name,omitempty"`
	Project  *string   `json:"project,omitempty"` // "" clears the project
	Tags     *[]string `json:"tags,omitempty"`
	Start    *int64    `json:"start,omitempty"`
	End      *int64    `json:"end,omitempty"`

	// Resume clears End, making the task running again
	Resume bool `json:"resume,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return u.TaskName == nil && u.Project == nil && u.Tags == nil &&
		u.Start == nil && u.End == nil && !u.Resume
}

// Apply returns t with the update merged in.
func (u TaskUpdate) Apply(t Task) Task {
	if u.TaskName != nil {
		t.TaskName = *u.TaskName
	}
	if u.Project != nil {
		p := *u.Project
		t.Project = &p
	}
	if u.Tags != nil {
		t.Tags = append([]string{}, (*u.Tags)...)
	}
	if u.Start != nil {
		t.Start = *u.Start
	}
	if u.End != nil {
		e := *u.End
		t.End = &e
	}
	if u.Resume {
		t.End = nil
	}
	t.normalize()
	return t
}

// StartOptions describes a task to start.
type StartOptions struct {
	Name    string
	Project *string
	Tags    []string

	// At is the start time in unix milliseconds; zero means now
	At int64
}

// Result reports the outcome of stop and cancel.
type Result struct {
	// NothingToDo is true when no task was running
	NothingToDo bool

	// Task is the task that was stopped or canceled
	Task *Task
}

func ptr[T any](v T) *T {
	return &v
}
