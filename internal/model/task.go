package model

import "time"

// TaskState is the coarse state of an asynchronously dispatched task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// TaskKind identifies the work a task performs.
type TaskKind string

const (
	TaskKindSearch    TaskKind = "search"
	TaskKindReconcile TaskKind = "reconcile"
)

// TaskStatus is a point-in-time view of a dispatched task as returned by a
// poll. Contacts is set only for succeeded search tasks, Report only for
// succeeded reconcile tasks, Error only for failed tasks.
type TaskStatus struct {
	ID          string           `json:"task_id"`
	Kind        TaskKind         `json:"kind"`
	Query       string           `json:"query,omitempty"`
	State       TaskState        `json:"state"`
	Contacts    []Contact        `json:"result,omitempty"`
	Report      *ReconcileReport `json:"report,omitempty"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}
