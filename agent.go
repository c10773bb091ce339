package drover

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus represents the worker agent lifecycle state.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	// AgentPaused signals the agent needs operator attention after an
	// abnormal worker exit. Paused agents are never resumed implicitly.
	AgentPaused  AgentStatus = "paused"
	AgentStopped AgentStatus = "stopped"
)

// CapabilityExecute is present on every agent regardless of spec input.
const CapabilityExecute = "execute"

// AgentSpec describes a worker agent to spawn.
type AgentSpec struct {
	// Name is a human-readable identifier
	Name string

	// Role describes what kind of work the agent handles
	Role string

	// Capabilities are tags used for task routing. They are normalized on
	// spawn and always include "execute".
	Capabilities []string

	// NoProcess suppresses starting a worker process. The agent is
	// registered but not assignable until a worker is started for it.
	NoProcess bool
}

// WorkerAgent is a registered agent backed by an out-of-process worker.
// The process handle is owned exclusively by the Orchestrator.
type WorkerAgent struct {
	// ID is the unique identifier for this agent
	ID string

	// Name is the human-readable identifier
	Name string

	// Role describes what kind of work the agent handles
	Role string

	// Capabilities are the normalized capability tags
	Capabilities []string

	// Status is the current lifecycle state
	Status AgentStatus

	// CurrentTask is the task the agent is working ("" if none)
	CurrentTask string

	// SpawnedAt is when the agent was registered
	SpawnedAt time.Time

	// handle is the worker process, nil when no worker is attached
	handle WorkerHandle

	// assigning guards the dispatch critical section: at most one
	// assignment per agent may be in flight at a time
	assigning bool
}

// clone returns a copy for snapshot accessors. The process handle is not
// carried over; it belongs to the orchestrator alone.
func (a *WorkerAgent) clone() *WorkerAgent {
	c := *a
	c.handle = nil
	c.assigning = false
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return &c
}

// ready reports whether the agent can accept an assignment.
func (a *WorkerAgent) ready() bool {
	return a.Status == AgentIdle && !a.assigning && a.handle != nil && a.handle.Alive()
}

// NormalizeCapabilities converts raw capability values (as decoded from
// YAML or JSON, where entries may not be strings) into the canonical form:
// stringified, trimmed, lower-cased, empties dropped, de-duplicated, with
// "execute" always present exactly once.
func NormalizeCapabilities(raw []any) []string {
	ss := make([]string, 0, len(raw))
	for _, v := range raw {
		switch s := v.(type) {
		case string:
			ss = append(ss, s)
		case nil:
			// dropped below as empty
			ss = append(ss, "")
		default:
			ss = append(ss, fmt.Sprint(v))
		}
	}
	return normalizeCapabilities(ss)
}

func normalizeCapabilities(raw []string) []string {
	out := make([]string, 0, len(raw)+1)
	seen := make(map[string]bool, len(raw)+1)
	for _, c := range raw {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if !seen[CapabilityExecute] {
		out = append(out, CapabilityExecute)
	}
	return out
}
