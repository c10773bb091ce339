package drover

import "time"

// MessageType identifies a worker protocol message.
type MessageType string

// The orchestrator and its workers exchange newline-delimited JSON
// envelopes over the worker's stdin/stdout. The contract is internal and
// not versioned: both ends always ship together.
const (
	// MessageDispatchTask sends a task to a worker.
	MessageDispatchTask MessageType = "dispatch-task"

	// MessageTaskCompleted reports successful task completion.
	MessageTaskCompleted MessageType = "task-completed"

	// MessageTaskFailed reports task failure with an error.
	MessageTaskFailed MessageType = "task-failed"

	// MessageShutdown asks a worker to exit cleanly.
	MessageShutdown MessageType = "shutdown"
)

// Envelope is a single worker protocol message.
type Envelope struct {
	Type        MessageType `json:"type"`
	AgentID     string      `json:"agent_id,omitempty"`
	TaskID      string      `json:"task_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
