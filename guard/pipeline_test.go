package guard

import (
	"testing"
)

func send(text string) ToolCall {
	return ToolCall{Name: "send_telegram", Metadata: map[string]any{"message": text, "chat_id": "42"}}
}

func names(tools []ToolCall) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func droppedReasons(res Result) map[string]string {
	out := make(map[string]string)
	for _, d := range res.Dropped {
		out[d.Tool] = d.Reason
	}
	return out
}

func TestStepBudgetShortCircuits(t *testing.T) {
	p := NewPipeline(Config{MaxStepsPerAction: 3})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{send("hi"), {Name: "web_search"}},
	}, Context{CurrentStep: 5})

	if len(res.Action.Tools) != 0 {
		t.Errorf("Tools = %v, want none past the step budget", names(res.Action.Tools))
	}
	if res.Action.Verification == nil || !res.Action.Verification.GoalsMet {
		t.Fatal("step budget must force the action complete")
	}
	if len(res.Dropped) != 2 {
		t.Errorf("Dropped = %d entries, want 2", len(res.Dropped))
	}
	for _, d := range res.Dropped {
		if d.Reason != ReasonStepBudget {
			t.Errorf("drop reason = %q, want %q", d.Reason, ReasonStepBudget)
		}
	}
}

func TestStepBudgetAtLimitAllowed(t *testing.T) {
	p := NewPipeline(Config{MaxStepsPerAction: 3})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "web_search"}},
	}, Context{CurrentStep: 3})

	if len(res.Action.Tools) != 1 {
		t.Errorf("step == budget should still run, got %v", names(res.Action.Tools))
	}
}

func TestDropUnknownTools(t *testing.T) {
	p := NewPipeline(Config{})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "Web_Search"}, {Name: "rm_rf"}},
	}, Context{AllowedTools: []string{"web_search", "send_telegram"}})

	if len(res.Action.Tools) != 1 || lower(res.Action.Tools[0].Name) != "web_search" {
		t.Errorf("Tools = %v, want only web_search (case-insensitive match)", names(res.Action.Tools))
	}
	if droppedReasons(res)["rm_rf"] != ReasonUnknownTool {
		t.Errorf("rm_rf drop reason = %q", droppedReasons(res)["rm_rf"])
	}
}

func TestEmptyAllowedSetAllowsAll(t *testing.T) {
	p := NewPipeline(Config{})
	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "anything"}, {Name: "goes"}},
	}, Context{})
	if len(res.Action.Tools) != 2 {
		t.Errorf("Tools = %v, want both", names(res.Action.Tools))
	}
}

func TestSkillRuleAvoid(t *testing.T) {
	p := NewPipeline(Config{
		SkillRules: []SkillRule{
			{Match: "(?i)database", Avoid: []string{"web_search"}},
		},
	})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "web_search"}, {Name: "query_db"}},
	}, Context{TaskDescription: "fix the Database migration"})

	if len(res.Action.Tools) != 1 || res.Action.Tools[0].Name != "query_db" {
		t.Errorf("Tools = %v, want only query_db", names(res.Action.Tools))
	}
	if droppedReasons(res)["web_search"] != ReasonRuleAvoid {
		t.Errorf("drop reason = %q, want %q", droppedReasons(res)["web_search"], ReasonRuleAvoid)
	}
}

func TestSkillRuleRequirePreferred(t *testing.T) {
	p := NewPipeline(Config{
		SkillRules: []SkillRule{
			{Match: "deploy", Prefer: []string{"run_pipeline"}, RequirePreferred: true},
		},
	})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "run_pipeline"}, {Name: "ssh_exec"}},
	}, Context{TaskDescription: "deploy the new build"})

	if len(res.Action.Tools) != 1 || res.Action.Tools[0].Name != "run_pipeline" {
		t.Errorf("Tools = %v, want only run_pipeline", names(res.Action.Tools))
	}
}

func TestSkillRuleRequirePreferredAbsent(t *testing.T) {
	// Without a preferred tool in the proposal, RequirePreferred does not
	// empty the action.
	p := NewPipeline(Config{
		SkillRules: []SkillRule{
			{Match: "deploy", Prefer: []string{"run_pipeline"}, RequirePreferred: true},
		},
	})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ssh_exec"}},
	}, Context{TaskDescription: "deploy the new build"})

	if len(res.Action.Tools) != 1 {
		t.Errorf("Tools = %v, want ssh_exec kept", names(res.Action.Tools))
	}
}

func TestSkillRuleBadPatternSkipped(t *testing.T) {
	p := NewPipeline(Config{
		SkillRules: []SkillRule{
			{Match: "[unclosed", Avoid: []string{"web_search"}},
		},
	})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "web_search"}},
	}, Context{TaskDescription: "anything"})

	if len(res.Action.Tools) != 1 {
		t.Error("rule with a bad pattern must be skipped, not enforced")
	}
	if len(res.Warnings) == 0 {
		t.Error("skipped rule should produce a warning")
	}
}

func TestCollapseDuplicateCalls(t *testing.T) {
	p := NewPipeline(Config{})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{
			{Name: "fetch", Metadata: map[string]any{"url": "https://a", "depth": 2}},
			{Name: "Fetch", Metadata: map[string]any{"depth": 2, "url": "https://a"}},
			{Name: "fetch", Metadata: map[string]any{"url": "https://b"}},
		},
	}, Context{})

	if len(res.Action.Tools) != 2 {
		t.Fatalf("Tools = %v, want the key-order duplicate collapsed", names(res.Action.Tools))
	}
	if droppedReasons(res)["Fetch"] != ReasonDuplicateCall {
		t.Errorf("drop reason = %q, want %q", droppedReasons(res)["Fetch"], ReasonDuplicateCall)
	}
}

func TestAutopilotDropsClarifications(t *testing.T) {
	p := NewPipeline(Config{AutopilotNoQuestions: true})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ask_question"}, {Name: "web_search"}},
	}, Context{TaskDescription: "research the topic"})

	if len(res.Action.Tools) != 1 || res.Action.Tools[0].Name != "web_search" {
		t.Errorf("Tools = %v, want clarification dropped", names(res.Action.Tools))
	}
	if droppedReasons(res)["ask_question"] != ReasonAutopilot {
		t.Errorf("drop reason = %q, want %q", droppedReasons(res)["ask_question"], ReasonAutopilot)
	}
}

func TestAutopilotKeepsLoneClarification(t *testing.T) {
	p := NewPipeline(Config{AutopilotNoQuestions: true})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ask_question"}},
	}, Context{TaskDescription: "what now"})

	if len(res.Action.Tools) != 1 {
		t.Error("a lone clarification must survive autopilot")
	}
}

func TestAutopilotDenyList(t *testing.T) {
	p := NewPipeline(Config{
		AutopilotNoQuestions: true,
		AutopilotDeny:        []string{"(?i)production"},
	})

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ask_question"}, {Name: "deploy"}},
	}, Context{TaskDescription: "push to Production"})

	if len(res.Action.Tools) != 2 {
		t.Error("deny-listed task must keep its clarification")
	}
}

func TestAutopilotAllowList(t *testing.T) {
	p := NewPipeline(Config{
		AutopilotNoQuestions: true,
		AutopilotAllow:       []string{"routine"},
	})

	// Task matches the allow list: clarification dropped.
	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ask_user"}, {Name: "web_search"}},
	}, Context{TaskDescription: "routine cleanup"})
	if len(res.Action.Tools) != 1 {
		t.Error("allow-listed task should drop the clarification")
	}

	// Task outside the allow list: clarification kept.
	res = p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "ask_user"}, {Name: "web_search"}},
	}, Context{TaskDescription: "novel request"})
	if len(res.Action.Tools) != 2 {
		t.Error("task outside the allow list should keep the clarification")
	}
}

func TestDropRepeatedSearches(t *testing.T) {
	p := NewPipeline(Config{})

	ctx := Context{
		ActionPrefix: "act1:",
		Memory: []MemoryEntry{
			{Key: "act1:search:1", Content: "golang  Mutex"},
			{Key: "act1:search:2", Content: "golang mutex"},
		},
	}

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{
			{Name: "web_search", Metadata: map[string]any{"query": "Golang MUTEX"}},
			{Name: "web_search", Metadata: map[string]any{"query": "channels"}},
		},
	}, ctx)

	if len(res.Action.Tools) != 1 {
		t.Fatalf("Tools = %v, want the repeated query dropped", names(res.Action.Tools))
	}
	if q := res.Action.Tools[0].Metadata["query"]; q != "channels" {
		t.Errorf("surviving query = %v, want channels", q)
	}
}

func TestSearchAllowedBelowTwoAttempts(t *testing.T) {
	p := NewPipeline(Config{})

	ctx := Context{
		ActionPrefix: "act1:",
		Memory: []MemoryEntry{
			{Key: "act1:search:1", Content: "golang mutex"},
		},
	}

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "web_search", Metadata: map[string]any{"query": "golang mutex"}}},
	}, ctx)

	if len(res.Action.Tools) != 1 {
		t.Error("a query attempted once may be retried")
	}
}

func TestDropDuplicateImages(t *testing.T) {
	p := NewPipeline(Config{})

	ctx := Context{
		ActionPrefix: "act1:",
		Memory: []MemoryEntry{
			{Key: "act1:image:1", Content: "sunset"},
		},
	}

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{
			{Name: "generate_image", Metadata: map[string]any{"prompt": "sunset"}},
			{Name: "web_search", Metadata: map[string]any{"query": "x"}},
		},
	}, ctx)

	if len(res.Action.Tools) != 1 || res.Action.Tools[0].Name != "web_search" {
		t.Errorf("Tools = %v, want image tool dropped", names(res.Action.Tools))
	}
	if droppedReasons(res)["generate_image"] != ReasonDuplicateImage {
		t.Errorf("drop reason = %q", droppedReasons(res)["generate_image"])
	}
}

func TestDropMetaLoops(t *testing.T) {
	p := NewPipeline(Config{})

	ctx := Context{
		ActionPrefix: "act1:",
		Memory: []MemoryEntry{
			{Key: "act1:step:1:tool:spawn_agent"},
			{Key: "act1:step:2:tool:spawn_agent"},
		},
	}

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "spawn_agent"}, {Name: "create_task"}},
	}, ctx)

	if len(res.Action.Tools) != 1 || res.Action.Tools[0].Name != "create_task" {
		t.Errorf("Tools = %v, want spawn_agent loop broken", names(res.Action.Tools))
	}
	if droppedReasons(res)["spawn_agent"] != ReasonMetaLoop {
		t.Errorf("drop reason = %q", droppedReasons(res)["spawn_agent"])
	}
}

func TestMetaToolAllowedBelowTwoRuns(t *testing.T) {
	p := NewPipeline(Config{})

	ctx := Context{
		ActionPrefix: "act1:",
		Memory: []MemoryEntry{
			{Key: "act1:step:1:tool:spawn_agent"},
		},
	}

	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{{Name: "spawn_agent"}},
	}, ctx)

	if len(res.Action.Tools) != 1 {
		t.Error("a meta tool run once may run again")
	}
}

func TestReconcileCompletion(t *testing.T) {
	p := NewPipeline(Config{})

	// First evaluation delivers the message.
	first := p.Evaluate(ProposedAction{Tools: []ToolCall{send("deploy finished, all checks green")}}, Context{SourceID: "42"})
	if len(first.Action.Tools) != 1 {
		t.Fatal("first send should pass")
	}

	// Second step proposes only the same send again.
	second := p.Evaluate(ProposedAction{
		Tools: []ToolCall{send("deploy finished, all checks green")},
	}, Context{SourceID: "42", MessagesSent: 1})

	if len(second.Action.Tools) != 0 {
		t.Fatalf("Tools = %v, want duplicate send suppressed", names(second.Action.Tools))
	}
	if second.Action.Verification == nil || !second.Action.Verification.GoalsMet {
		t.Error("all-sends-suppressed step must reconcile as complete")
	}
}

func TestReconcileRequiresPriorMessage(t *testing.T) {
	p := NewPipeline(Config{MaxMessagesPerAction: 1})

	// Nothing sent yet this action, the send is budget-dropped. No prior
	// message means no completion reconciliation.
	p.RecordSent("send_telegram", "42", "earlier text")
	res := p.Evaluate(ProposedAction{
		Tools: []ToolCall{send("earlier text")},
	}, Context{SourceID: "42", MessagesSent: 0})

	if res.Action.Verification != nil && res.Action.Verification.GoalsMet {
		t.Error("reconciliation must not fire without a prior delivered message")
	}
}
