package drover

import (
	"errors"
	"fmt"
)

// Standard errors returned by drover operations.
var (
	// ErrAgentNotFound indicates the agent ID is not registered.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrTaskNotFound indicates the task ID is not registered.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotPending indicates the task is not in the pending state.
	ErrTaskNotPending = errors.New("task is not pending")

	// ErrAgentNotReady indicates the agent is not idle with a live worker.
	ErrAgentNotReady = errors.New("agent is not ready")

	// ErrAgentNotPaused indicates a resume was requested for an agent
	// that is not paused.
	ErrAgentNotPaused = errors.New("agent is not paused")

	// ErrMaxAgentsReached indicates the orchestrator is at capacity.
	ErrMaxAgentsReached = errors.New("maximum number of agents reached")

	// ErrWorkerNotRunning indicates the worker process is gone.
	ErrWorkerNotRunning = errors.New("worker is not running")

	// ErrNoSupervisor indicates no WorkerSupervisor is configured.
	ErrNoSupervisor = errors.New("no worker supervisor configured")
)

// AgentError wraps an error with agent and task context.
type AgentError struct {
	AgentID string
	TaskID  string
	Err     error
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("agent %s (task %s): %v", e.AgentID, e.TaskID, e.Err)
	}
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *AgentError) Unwrap() error {
	return e.Err
}
