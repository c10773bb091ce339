package guard

import (
	"sort"
	"strings"
	"time"
)

// semanticDupThreshold is the word-overlap similarity above which two
// messages to the same destination count as duplicates.
const semanticDupThreshold = 0.7

// semanticLookback is how many recent messages per destination the
// similarity check considers.
const semanticLookback = 5

// fillerPhrases are stripped before fingerprinting so pleasantries don't
// mask an otherwise identical message.
var fillerPhrases = []string{
	"no problem",
	"of course",
	"here you go",
	"let me know",
	"thank you",
	"thanks",
	"please",
	"sure thing",
	"sure",
	"okay",
	"got it",
	"i will",
	"i'll",
}

// reassurancePhrases are short filler replies exempted once per action from
// exact-duplicate suppression, so an agent can still say "on it" twice
// without the second one vanishing.
var reassurancePhrases = map[string]bool{
	"on it":          true,
	"working on it":  true,
	"still working":  true,
	"one moment":     true,
	"got it":         true,
	"will do":        true,
	"looking into it": true,
}

// sentMessage is one entry in a destination's rolling dedup window.
type sentMessage struct {
	norm  string
	words map[string]struct{}
	at    time.Time
}

// filterMessages is the messaging guard: per remaining send-type call it
// enforces the message budget, suppresses semantic and exact duplicates per
// destination key, and records survivors into the destination's rolling
// window.
func (p *Pipeline) filterMessages(res *Result, ctx Context) {
	allowed := 0

	kept := res.Action.Tools[:0]
	for _, t := range res.Action.Tools {
		if !isSendTool(t.Name) {
			kept = append(kept, t)
			continue
		}

		key := p.destinationKey(t, ctx)
		msg := messageText(t.Metadata)

		// Budget: messages already sent plus those allowed in this
		// evaluation may not reach the cap.
		if p.cfg.MaxMessagesPerAction > 0 && ctx.MessagesSent+allowed >= p.cfg.MaxMessagesPerAction {
			res.drop(t.Name, ReasonMessageBudget)
			continue
		}

		p.mu.Lock()
		verdict := p.checkDuplicateLocked(key, msg, ctx)
		if verdict == "" {
			p.recordLocked(key, msg)
		}
		p.mu.Unlock()

		if verdict != "" {
			res.drop(t.Name, verdict)
			continue
		}

		allowed++
		kept = append(kept, t)
	}
	res.Action.Tools = kept
}

// destinationKey scopes deduplication to an actual delivery target: the
// tool name plus the resolved recipient, falling back to the context source
// and finally "anon".
func (p *Pipeline) destinationKey(t ToolCall, ctx Context) string {
	recipient := recipientID(t.Metadata)
	if recipient == "" {
		recipient = ctx.SourceID
	}
	if recipient == "" {
		recipient = "anon"
	}
	return lower(t.Name) + ":" + recipient
}

// checkDuplicateLocked returns the drop reason for a duplicate message, or
// "" when the message may go out. Callers hold p.mu.
func (p *Pipeline) checkDuplicateLocked(key, msg string, ctx Context) string {
	window := p.windows[key]
	norm := normalizeMessage(msg)
	words := fingerprintWords(msg)

	// Semantic duplicate against the recent window, unless a non-send tool
	// ran since the last send: new information earns a fresh say.
	if !newInfoSinceLastSend(ctx) {
		start := len(window) - semanticLookback
		if start < 0 {
			start = 0
		}
		for _, prev := range window[start:] {
			if wordOverlap(words, prev.words) > semanticDupThreshold {
				return ReasonSemanticDup
			}
		}
	}

	// Exact duplicate of the single most recent message on this key.
	if len(window) > 0 && window[len(window)-1].norm == norm {
		if reassurancePhrases[norm] && !p.reassured[ctx.ActionPrefix] {
			p.reassured[ctx.ActionPrefix] = true
			return ""
		}
		return ReasonExactDup
	}

	return ""
}

// recordLocked appends a message to the destination's rolling window,
// trimming it to the configured cap. Callers hold p.mu.
func (p *Pipeline) recordLocked(key, msg string) {
	window := append(p.windows[key], sentMessage{
		norm:  normalizeMessage(msg),
		words: fingerprintWords(msg),
		at:    time.Now(),
	})
	if limit := p.cfg.MessageDedupWindow; limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	p.windows[key] = window
}

// RecordSent records a message that was actually delivered outside an
// evaluation, keeping the dedup window aligned with reality.
func (p *Pipeline) RecordSent(toolName, recipient, msg string) {
	if recipient == "" {
		recipient = "anon"
	}
	key := lower(toolName) + ":" + recipient
	p.mu.Lock()
	p.recordLocked(key, msg)
	p.mu.Unlock()
}

// normalizeMessage lowers, strips terminal punctuation, and collapses
// whitespace for exact comparison.
func normalizeMessage(msg string) string {
	s := strings.Join(strings.Fields(strings.ToLower(msg)), " ")
	return strings.TrimRight(s, ".!? ")
}

// fingerprintWords builds the semantic fingerprint: filler stripped, then
// the set of words longer than three characters.
func fingerprintWords(msg string) map[string]struct{} {
	s := strings.ToLower(msg)
	for _, filler := range fillerPhrases {
		s = strings.ReplaceAll(s, filler, " ")
	}
	// Reassurance phrases are filler by definition; stripping them here
	// keeps the exact-duplicate stage (and its one-time allowance) the
	// sole judge of repeated reassurances. Strip longer phrases first so a
	// contained phrase ("on it" inside "working on it") can't leave a
	// remnant word behind.
	phrases := make([]string, 0, len(reassurancePhrases))
	for phrase := range reassurancePhrases {
		phrases = append(phrases, phrase)
	}
	sort.Slice(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	for _, phrase := range phrases {
		s = strings.ReplaceAll(s, phrase, " ")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')':
			return ' '
		}
		return r
	}, s)

	words := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if len(w) > 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

// wordOverlap computes intersection over max-set-size similarity.
func wordOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	common := 0
	for w := range small {
		if _, ok := large[w]; ok {
			common++
		}
	}
	return float64(common) / float64(len(large))
}
