package guard

import "strings"

// actionEntries returns the memory entries namespaced under the action
// prefix, preserving order. With no prefix set, all entries are in scope.
func actionEntries(ctx Context) []MemoryEntry {
	if ctx.ActionPrefix == "" {
		return ctx.Memory
	}
	out := make([]MemoryEntry, 0, len(ctx.Memory))
	for _, e := range ctx.Memory {
		if strings.HasPrefix(e.Key, ctx.ActionPrefix) {
			out = append(out, e)
		}
	}
	return out
}

// toolRuns returns the names of tools recorded as executed this action, in
// order.
func toolRuns(ctx Context) []string {
	var out []string
	for _, e := range actionEntries(ctx) {
		if i := strings.LastIndex(e.Key, "tool:"); i >= 0 {
			if name := e.Key[i+len("tool:"):]; name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// searchAttempts counts how many times a normalized query was already
// attempted this action.
func searchAttempts(ctx Context, query string) int {
	n := 0
	for _, e := range actionEntries(ctx) {
		if strings.Contains(e.Key, "search:") && normalizeQuery(e.Content) == query {
			n++
		}
	}
	return n
}

// imageGenerated reports whether an image was already generated this action.
func imageGenerated(ctx Context) bool {
	for _, e := range actionEntries(ctx) {
		if strings.Contains(e.Key, "image:") {
			return true
		}
	}
	return false
}

// newInfoSinceLastSend reports whether a non-send tool ran after the last
// send recorded this action. A fresh tool run is evidence the agent has new
// information, which exempts near-duplicate messages.
func newInfoSinceLastSend(ctx Context) bool {
	runs := toolRuns(ctx)
	lastSend := -1
	for i, name := range runs {
		if isSendTool(name) {
			lastSend = i
		}
	}
	if lastSend < 0 {
		return false
	}
	for _, name := range runs[lastSend+1:] {
		if !isSendTool(name) {
			return true
		}
	}
	return false
}

// normalizeQuery lowers and collapses whitespace in a search query.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
