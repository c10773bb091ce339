package guard

// DefaultMessageDedupWindow is the per-destination rolling window size.
const DefaultMessageDedupWindow = 10

// SkillRule routes tool choice by task text. When Match hits the task
// description, tools in Avoid are removed; when RequirePreferred is set and
// a preferred tool is among the proposal, the proposal is restricted to the
// Prefer set.
type SkillRule struct {
	// Match is a regex applied to the task description
	Match string `yaml:"match" json:"match"`

	// Prefer lists tools this rule favors
	Prefer []string `yaml:"prefer,omitempty" json:"prefer,omitempty"`

	// Avoid lists tools this rule removes
	Avoid []string `yaml:"avoid,omitempty" json:"avoid,omitempty"`

	// RequirePreferred restricts the proposal to Prefer when one of the
	// preferred tools is present
	RequirePreferred bool `yaml:"require_preferred,omitempty" json:"require_preferred,omitempty"`
}

// Config is the guardrail configuration surface, read from the deployment
// config.
type Config struct {
	// MaxStepsPerAction short-circuits an action once it exceeds this many
	// steps (0 = unbounded)
	MaxStepsPerAction int `yaml:"max_steps_per_action" json:"max_steps_per_action"`

	// MaxMessagesPerAction caps messages delivered per action (0 = unbounded)
	MaxMessagesPerAction int `yaml:"max_messages_per_action" json:"max_messages_per_action"`

	// MessageDedupWindow is the per-destination rolling window size
	MessageDedupWindow int `yaml:"message_dedup_window" json:"message_dedup_window"`

	// SkillRules route tool choice by task text
	SkillRules []SkillRule `yaml:"skill_rules,omitempty" json:"skill_rules,omitempty"`

	// AutopilotNoQuestions drops clarification requests when other tools
	// remain and the allow/deny lists permit it
	AutopilotNoQuestions bool `yaml:"autopilot_no_questions" json:"autopilot_no_questions"`

	// AutopilotAllow are regexes on the task text; when non-empty, at
	// least one must match for autopilot to apply
	AutopilotAllow []string `yaml:"autopilot_allow,omitempty" json:"autopilot_allow,omitempty"`

	// AutopilotDeny are regexes on the task text; any match disables
	// autopilot for the action
	AutopilotDeny []string `yaml:"autopilot_deny,omitempty" json:"autopilot_deny,omitempty"`
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.MessageDedupWindow <= 0 {
		c.MessageDedupWindow = DefaultMessageDedupWindow
	}
}
