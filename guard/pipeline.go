package guard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// Pipeline evaluates proposed actions through the ordered guardrail stages.
// It owns all cross-step state explicitly, so a fresh instance gives
// deterministic, test-isolated behavior.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	rules     []compiledRule
	allowList []*regexp.Regexp
	denyList  []*regexp.Regexp

	mu        sync.Mutex
	windows   map[string][]sentMessage // destination key → rolling window
	reassured map[string]bool          // action prefix → allowance consumed
}

// compiledRule pairs a SkillRule with its compiled pattern. A rule whose
// pattern fails to compile is kept with err set and skipped at evaluation
// time with a warning.
type compiledRule struct {
	rule SkillRule
	re   *regexp.Regexp
	err  error
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the structured logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a Pipeline with the given configuration.
func NewPipeline(cfg Config, opts ...PipelineOption) *Pipeline {
	cfg.ApplyDefaults()

	p := &Pipeline{
		cfg:       cfg,
		logger:    slog.Default(),
		windows:   make(map[string][]sentMessage),
		reassured: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, r := range cfg.SkillRules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			p.logger.Warn("guard: skill rule pattern invalid, rule will be skipped", "pattern", r.Match, "error", err)
		}
		p.rules = append(p.rules, compiledRule{rule: r, re: re, err: err})
	}
	p.allowList = compilePatterns(cfg.AutopilotAllow, p.logger)
	p.denyList = compilePatterns(cfg.AutopilotDeny, p.logger)

	return p
}

func compilePatterns(patterns []string, logger *slog.Logger) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			logger.Warn("guard: autopilot pattern invalid, ignored", "pattern", pat, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

// Evaluate runs the proposed action through every stage and returns the
// sanitized action. It never fails; everything it suppresses is recorded in
// the result's warnings and dropped lists.
func (p *Pipeline) Evaluate(proposed ProposedAction, ctx Context) Result {
	res := Result{Action: proposed}
	res.Action.Tools = append([]ToolCall(nil), proposed.Tools...)
	original := proposed.Tools

	// Step-budget gate. Short-circuits all remaining stages: the action is
	// declared done rather than allowed to run unbounded.
	if p.cfg.MaxStepsPerAction > 0 && ctx.CurrentStep > p.cfg.MaxStepsPerAction {
		for _, t := range res.Action.Tools {
			res.drop(t.Name, ReasonStepBudget)
		}
		res.Action.Tools = nil
		res.Action.Verification = &Verification{GoalsMet: true, Analysis: "step budget exceeded"}
		res.warn(fmt.Sprintf("step %d exceeds budget of %d; action forced complete", ctx.CurrentStep, p.cfg.MaxStepsPerAction))
		return res
	}

	p.dropUnknownTools(&res, ctx)
	p.applySkillRules(&res, ctx)
	p.collapseDuplicateCalls(&res)
	p.applyAutopilot(&res, ctx)
	p.dropRepeatedSearches(&res, ctx)
	p.dropDuplicateImages(&res, ctx)
	p.dropMetaLoops(&res, ctx)
	p.filterMessages(&res, ctx)
	p.reconcileCompletion(&res, ctx, original)

	return res
}

// dropUnknownTools removes tools outside the case-insensitive allowed set.
// No allowed set means every tool is allowed.
func (p *Pipeline) dropUnknownTools(res *Result, ctx Context) {
	if len(ctx.AllowedTools) == 0 {
		return
	}
	allowed := make(map[string]bool, len(ctx.AllowedTools))
	for _, name := range ctx.AllowedTools {
		allowed[lower(name)] = true
	}

	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if allowed[lower(t.Name)] {
			kept = append(kept, t)
			continue
		}
		res.drop(t.Name, ReasonUnknownTool)
	}
	res.Action.Tools = kept
}

// applySkillRules applies each routing rule whose pattern matches the task
// text. Malformed patterns skip their rule with a warning; the pipeline
// continues.
func (p *Pipeline) applySkillRules(res *Result, ctx Context) {
	for _, cr := range p.rules {
		if cr.err != nil {
			res.warn(fmt.Sprintf("skill rule %q skipped: %v", cr.rule.Match, cr.err))
			continue
		}
		if !cr.re.MatchString(ctx.TaskDescription) {
			continue
		}

		// Restrict to the preferred set when required and a preferred tool
		// is actually among the proposal.
		if cr.rule.RequirePreferred && len(cr.rule.Prefer) > 0 {
			prefer := toSet(cr.rule.Prefer)
			hasPreferred := false
			for _, t := range res.Action.Tools {
				if prefer[lower(t.Name)] {
					hasPreferred = true
					break
				}
			}
			if hasPreferred {
				kept := res.Action.Tools[:0]
				for _, t := range res.Action.Tools {
					if prefer[lower(t.Name)] {
						kept = append(kept, t)
						continue
					}
					res.drop(t.Name, ReasonRuleNotPreferred)
				}
				res.Action.Tools = kept
			}
		}

		// Avoided tools always go.
		if len(cr.rule.Avoid) > 0 {
			avoid := toSet(cr.rule.Avoid)
			kept := res.Action.Tools[:0]
			for _, t := range res.Action.Tools {
				if avoid[lower(t.Name)] {
					res.drop(t.Name, ReasonRuleAvoid)
					continue
				}
				kept = append(kept, t)
			}
			res.Action.Tools = kept
		}
	}
}

// collapseDuplicateCalls drops tool calls whose (name, metadata) signature
// repeats an earlier call in the same response. Metadata is serialized with
// canonical key order, so semantically identical metadata always collides.
func (p *Pipeline) collapseDuplicateCalls(res *Result) {
	seen := make(map[string]bool, len(res.Action.Tools))
	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		sig := callSignature(t)
		if seen[sig] {
			res.drop(t.Name, ReasonDuplicateCall)
			continue
		}
		seen[sig] = true
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// callSignature builds a stable identity for a tool call. encoding/json
// emits map keys in sorted order, which makes the signature insensitive to
// metadata key order.
func callSignature(t ToolCall) string {
	data, err := json.Marshal(t.Metadata)
	if err != nil {
		data = []byte(fmt.Sprint(t.Metadata))
	}
	return lower(t.Name) + "\x00" + string(data)
}

// applyAutopilot drops clarification requests when the action has real work
// to do and the allow/deny lists permit it.
func (p *Pipeline) applyAutopilot(res *Result, ctx Context) {
	if !p.cfg.AutopilotNoQuestions || len(res.Action.Tools) <= 1 {
		return
	}
	for _, re := range p.denyList {
		if re.MatchString(ctx.TaskDescription) {
			return
		}
	}
	if len(p.allowList) > 0 {
		matched := false
		for _, re := range p.allowList {
			if re.MatchString(ctx.TaskDescription) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}

	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if isClarificationTool(t.Name) {
			res.drop(t.Name, ReasonAutopilot)
			continue
		}
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// dropRepeatedSearches drops a search whose query was already attempted at
// least twice this action.
func (p *Pipeline) dropRepeatedSearches(res *Result, ctx Context) {
	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if isSearchTool(t.Name) {
			q := normalizeQuery(searchQuery(t.Metadata))
			if q != "" && searchAttempts(ctx, q) >= 2 {
				res.drop(t.Name, ReasonRepeatedSearch)
				continue
			}
		}
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// dropDuplicateImages drops image generation and image sends once memory
// shows an image was already generated this action.
func (p *Pipeline) dropDuplicateImages(res *Result, ctx Context) {
	if !imageGenerated(ctx) {
		return
	}
	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if isImageTool(t.Name) {
			res.drop(t.Name, ReasonDuplicateImage)
			continue
		}
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// dropMetaLoops drops orchestration tools once their name has appeared at
// least twice in this action's recent memory.
func (p *Pipeline) dropMetaLoops(res *Result, ctx Context) {
	counts := make(map[string]int)
	for _, name := range toolRuns(ctx) {
		if isMetaTool(name) {
			counts[lower(name)]++
		}
	}
	if len(counts) == 0 {
		return
	}

	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if isMetaTool(t.Name) && counts[lower(t.Name)] >= 2 {
			res.drop(t.Name, ReasonMetaLoop)
			continue
		}
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// reconcileCompletion turns an all-sends-suppressed step into an explicit
// completion instead of a false-looking no-op: if every originally-proposed
// tool was a send, all of them were dropped as duplicates, and an earlier
// message already went out this action, the goals are in fact met.
func (p *Pipeline) reconcileCompletion(res *Result, ctx Context, original []ToolCall) {
	if len(original) == 0 || len(res.Action.Tools) != 0 || ctx.MessagesSent == 0 {
		return
	}
	for _, t := range original {
		if !isSendTool(t.Name) {
			return
		}
	}
	dupSends := 0
	for _, d := range res.Dropped {
		if !isSendTool(d.Tool) {
			continue
		}
		switch d.Reason {
		case ReasonDuplicateCall, ReasonSemanticDup, ReasonExactDup:
			dupSends++
		}
	}
	if dupSends != len(original) {
		return
	}
	res.Action.Verification = &Verification{
		GoalsMet: true,
		Analysis: "message already delivered this action; duplicate sends suppressed",
	}
	res.warn("all proposed sends were duplicates; action reconciled as complete")
}

func (r *Result) drop(tool, reason string) {
	r.Dropped = append(r.Dropped, DroppedTool{Tool: tool, Reason: reason})
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[lower(n)] = true
	}
	return m
}
