package tasks

// ActionKind distinguishes the TaskAction variants.
type ActionKind string

const (
	ActionUpsert ActionKind = "upsert"
	ActionDelete ActionKind = "delete"
)

// TaskAction describes one change made to the store.
type TaskAction struct {
	Kind   ActionKind `json:"kind"`
	Task   *Task      `json:"task,omitempty"`
	TaskID string     `json:"task_id"`
}

// Upsert returns the action announcing a created or changed task.
func Upsert(t Task) TaskAction {
	return TaskAction{Kind: ActionUpsert, Task: &t, TaskID: t.ID}
}

// Delete returns the action announcing a removed task.
func Delete(id string) TaskAction {
	return TaskAction{Kind: ActionDelete, TaskID: id}
}

// Notifier receives the actions of every committed mutation.
type Notifier interface {
	Notify(actions []TaskAction)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(actions []TaskAction)

func (f NotifierFunc) Notify(actions []TaskAction) { f(actions) }

// NopNotifier drops every action.
type NopNotifier struct{}

func (NopNotifier) Notify([]TaskAction) {}
