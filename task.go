package drover

import "time"

// TaskStatus represents the task lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work tracked by the Orchestrator. Tasks are created
// pending and are never deleted, only stamped with a terminal status.
type Task struct {
	// ID is the unique identifier for this task
	ID string

	// Description is what the task asks a worker to do
	Description string

	// Priority orders tasks for assignment (higher first)
	Priority int

	// Status is the current lifecycle state
	Status TaskStatus

	// AssignedTo is the agent currently working this task ("" if none)
	AssignedTo string

	// Error holds failure or requeue detail ("" if none)
	Error string

	// Result is the worker-reported outcome for completed tasks
	Result string

	// CreatedAt is when the task was created
	CreatedAt time.Time

	// CompletedAt is when the task reached a terminal state
	CompletedAt time.Time
}

// clone returns a copy for snapshot accessors.
func (t *Task) clone() *Task {
	c := *t
	return &c
}
