package detector

import (
	"testing"

	"github.com/groupguard/mod-engine/internal/policy"
)

func snap(mode policy.BanMode, words ...string) *policy.Snapshot {
	return policy.NewSnapshot(mode, words)
}

func TestEvaluate_ForbiddenWords(t *testing.T) {
	s := snap(policy.ModeCaptcha, "badword", "spam")

	tests := []struct {
		name     string
		input    string
		violated bool
		term     string
		reason   string
	}{
		{"exact match", "badword", true, "badword", ReasonForbiddenWord},
		{"in sentence", "this is badword here", true, "badword", ReasonForbiddenWord},
		{"case insensitive", "Badword", true, "Badword", ReasonForbiddenWord},
		{"mixed case", "buy Spam now", true, "Spam", ReasonForbiddenWord},
		{"upper entry lower text", "SPAM", true, "SPAM", ReasonForbiddenWord},
		{"clean message", "hello world", false, "", ""},
		{"substring no match", "spammer alert", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.input, s)
			if v.Violated != tt.violated {
				t.Fatalf("Evaluate(%q).Violated = %v, want %v", tt.input, v.Violated, tt.violated)
			}
			if tt.violated && v.Term != tt.term {
				t.Errorf("Evaluate(%q).Term = %q, want %q", tt.input, v.Term, tt.term)
			}
			if tt.violated && v.Reason != tt.reason {
				t.Errorf("Evaluate(%q).Reason = %q, want %q", tt.input, v.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluate_PatternsWithEmptyWordList(t *testing.T) {
	s := snap(policy.ModeCaptcha) // no forbidden words at all

	tests := []struct {
		name     string
		input    string
		violated bool
		reason   string
	}{
		{"http url", "check http://x.co", true, ReasonURL},
		{"https url", "go to https://evil.example/click", true, ReasonURL},
		{"bare domain", "visit evil.com please", true, ReasonURL},
		{"mention", "contact @someone", true, ReasonMention},
		{"handle mid-token", "email me@host", true, ReasonMention},
		{"plain text", "hello there friend", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.input, s)
			if v.Violated != tt.violated {
				t.Fatalf("Evaluate(%q).Violated = %v, want %v (term=%q reason=%q)",
					tt.input, v.Violated, tt.violated, v.Term, v.Reason)
			}
			if tt.violated && v.Reason != tt.reason {
				t.Errorf("Evaluate(%q).Reason = %q, want %q", tt.input, v.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluate_FirstViolationWins(t *testing.T) {
	s := snap(policy.ModeCaptcha, "spam")

	// A dictionary hit takes priority over the URL pattern even when the
	// URL appears earlier in the text.
	v := Evaluate("see http://x.co for spam", s)
	if !v.Violated {
		t.Fatal("expected violation")
	}
	if v.Reason != ReasonForbiddenWord || v.Term != "spam" {
		t.Errorf("got reason=%q term=%q, want forbidden_word/spam", v.Reason, v.Term)
	}
}

func TestEvaluate_URLTermIsFlag(t *testing.T) {
	s := snap(policy.ModeCaptcha)

	v := Evaluate("check http://x.co now", s)
	if !v.Violated {
		t.Fatal("expected violation")
	}
	if v.Term != "http://x.co" {
		t.Errorf("Term = %q, want the matched substring", v.Term)
	}
}

func TestEvaluate_EmptyText(t *testing.T) {
	s := snap(policy.ModeCaptcha, "spam")
	if v := Evaluate("", s); v.Violated {
		t.Errorf("empty text flagged: %+v", v)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	s := snap(policy.ModeCaptcha, "spam", "scam", "crypto")
	msg := "hey how is everyone doing today, lovely weather for a ride"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Evaluate(msg, s)
	}
}
