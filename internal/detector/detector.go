// Package detector screens message text against the active moderation policy.
// It flags messages containing forbidden words, URL-shaped substrings, or
// @handle mentions. The violating token is reported so enforcement prompts
// can quote it back to the sender.
package detector

import (
	"regexp"
	"strings"
	"time"

	"github.com/groupguard/mod-engine/internal/metrics"
	"github.com/groupguard/mod-engine/internal/policy"
)

// Violation reasons reported in Verdict.Reason.
const (
	ReasonForbiddenWord = "forbidden_word"
	ReasonURL           = "url"
	ReasonMention       = "mention"
)

// Compiled patterns for link and mention detection. Compiled once at package
// init and reused for every call, safe for concurrent use.
var (
	// urlPattern matches http/https URLs and bare word.word domain-like
	// substrings. The bare form intentionally matches aggressively
	// (e.g. "x.co"); a domain slipping through is worse than an extra
	// challenge in the group-chat setting.
	urlPattern = regexp.MustCompile(`(?i)https?://\S+|\b\w+\.\w+\b`)

	// mentionPattern matches @handle-shaped substrings.
	mentionPattern = regexp.MustCompile(`@\w+`)
)

// Verdict is the result of evaluating one message.
type Verdict struct {
	Violated bool
	Term     string // the forbidden word or matched flag substring
	Reason   string // one of the Reason* constants
}

// Evaluate checks text against the snapshot's forbidden words and the link
// and mention patterns. Forbidden-word matching tokenizes on whitespace and
// compares case-insensitively; pattern flags fire even with an empty word
// list. The first violation found wins and scanning stops.
func Evaluate(text string, snap *policy.Snapshot) Verdict {
	start := time.Now()
	defer func() {
		metrics.EvaluateLatency.Observe(time.Since(start).Seconds())
	}()

	for _, token := range strings.Fields(text) {
		if snap.Forbidden(token) {
			return Verdict{Violated: true, Term: token, Reason: ReasonForbiddenWord}
		}
	}

	if m := urlPattern.FindString(text); m != "" {
		return Verdict{Violated: true, Term: m, Reason: ReasonURL}
	}

	if m := mentionPattern.FindString(text); m != "" {
		return Verdict{Violated: true, Term: m, Reason: ReasonMention}
	}

	return Verdict{}
}
