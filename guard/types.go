package guard

// ToolCall is a single tool invocation an agent proposes.
type ToolCall struct {
	// Name is the tool name
	Name string `json:"name"`

	// Metadata carries the tool arguments
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Verification is the agent's self-assessment of whether the action's goals
// are met.
type Verification struct {
	GoalsMet bool   `json:"goals_met"`
	Analysis string `json:"analysis,omitempty"`
}

// ProposedAction is one decision step's output: reasoning plus the tool
// calls the agent wants to execute. It is built per step, filtered by the
// pipeline, and discarded after execution.
type ProposedAction struct {
	Reasoning    string        `json:"reasoning,omitempty"`
	Tools        []ToolCall    `json:"tools,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}

// MemoryEntry is a recent memory record exposed to the pipeline. See the
// package doc for the key conventions.
type MemoryEntry struct {
	Key     string
	Content string
}

// Context is the per-action state passed into an evaluation. It lives for
// one action.
type Context struct {
	// MessagesSent is how many messages this action already delivered
	MessagesSent int

	// CurrentStep is the 1-based step number within the action
	CurrentStep int

	// SourceChannel names the channel the work request came from
	SourceChannel string

	// SourceID is the destination fallback when a send call names no
	// recipient
	SourceID string

	// ActionPrefix namespaces this action's memory entries
	ActionPrefix string

	// Memory holds the recent entries for this action, oldest first
	Memory []MemoryEntry

	// AllowedTools is the set of tools the agent may call
	AllowedTools []string

	// TaskDescription is the free-text task the agent is working on.
	// Potentially attacker-controllable when sourced from chat input.
	TaskDescription string
}

// DroppedTool records one suppressed tool call and why.
type DroppedTool struct {
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

// Result is the sanitized action plus observability metadata.
type Result struct {
	Action   ProposedAction `json:"action"`
	Warnings []string       `json:"warnings,omitempty"`
	Dropped  []DroppedTool  `json:"dropped,omitempty"`
}

// Drop reasons recorded in Result.Dropped.
const (
	ReasonStepBudget       = "step budget exceeded"
	ReasonUnknownTool      = "tool not in allowed set"
	ReasonRuleAvoid        = "tool avoided by routing rule"
	ReasonRuleNotPreferred = "tool outside rule's preferred set"
	ReasonDuplicateCall    = "duplicate tool call"
	ReasonAutopilot        = "clarification suppressed by autopilot"
	ReasonRepeatedSearch   = "query already searched this action"
	ReasonDuplicateImage   = "image already generated this action"
	ReasonMetaLoop         = "orchestration loop guard"
	ReasonMessageBudget    = "message budget reached"
	ReasonSemanticDup      = "semantic duplicate of recent message"
	ReasonExactDup         = "duplicate of last message"
)
