// Package store persists orchestration state: task and agent snapshots, an
// append-only event log, and schedule definitions.
package store

import "time"

// TaskRecord is the persisted snapshot of a task.
type TaskRecord struct {
	ID          string
	Description string
	Priority    int
	Status      string
	AssignedTo  string
	Error       string
	Result      string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// AgentRecord is the persisted snapshot of a worker agent.
type AgentRecord struct {
	ID           string
	Name         string
	Role         string
	Capabilities []string
	Status       string
	CurrentTask  string
	SpawnedAt    time.Time
}

// Event is one orchestration, guardrail, or polling event.
type Event struct {
	ID        int64
	Type      string
	TaskID    string
	AgentID   string
	Detail    string
	Timestamp time.Time
}

// Schedule is a persisted cron job definition.
type Schedule struct {
	Name        string
	Cron        string
	Description string
	Priority    int
	Enabled     bool
}

// Store persists snapshots and events for historical queries and restart
// recovery.
type Store interface {
	// Init creates tables if they don't exist.
	Init() error

	// Close closes the store.
	Close() error

	// SaveTask upserts a task snapshot.
	SaveTask(t TaskRecord) error

	// ListTasks returns all task snapshots, newest first.
	ListTasks() ([]TaskRecord, error)

	// SaveAgent upserts an agent snapshot.
	SaveAgent(a AgentRecord) error

	// ListAgents returns all agent snapshots.
	ListAgents() ([]AgentRecord, error)

	// InsertEvent appends to the event log.
	InsertEvent(e Event) error

	// ListEvents returns recent events, newest first.
	ListEvents(limit int) ([]Event, error)

	// UpsertSchedule persists a schedule definition.
	UpsertSchedule(s Schedule) error

	// DeleteSchedule removes a schedule by name.
	DeleteSchedule(name string) error

	// ListSchedules returns all schedule definitions.
	ListSchedules() ([]Schedule, error)
}
