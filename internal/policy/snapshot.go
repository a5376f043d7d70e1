// Package policy manages the moderation policy: the active ban mode and the
// forbidden-word list. Both are fetched from a remote spreadsheet-style HTTP
// source on independent schedules, cached in Redis so the engine warm-starts
// with the last known policy, and exposed to the rest of the engine as an
// immutable snapshot that is replaced wholesale on every refresh.
package policy

import (
	"strings"
	"time"
)

// BanMode is the active moderation policy.
type BanMode int

const (
	// ModeOff disables content enforcement entirely.
	ModeOff BanMode = iota
	// ModeCaptcha challenges violating senders before banning them.
	ModeCaptcha
	// ModeInstant bans violating senders immediately.
	ModeInstant
)

// String returns the wire/config spelling of the mode.
func (m BanMode) String() string {
	switch m {
	case ModeCaptcha:
		return "captcha"
	case ModeInstant:
		return "instant"
	default:
		return "off"
	}
}

// ParseBanMode maps a raw mode cell value to a BanMode. The comparison is
// case-insensitive and ignores surrounding whitespace. Unknown or empty
// values report ok=false; callers treat that as ModeOff.
func ParseBanMode(raw string) (BanMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off":
		return ModeOff, true
	case "captcha":
		return ModeCaptcha, true
	case "instant":
		return ModeInstant, true
	default:
		return ModeOff, false
	}
}

// Snapshot is an immutable view of the moderation policy. A snapshot is never
// mutated after construction; refreshes build a new snapshot and swap it in
// atomically, so readers never observe a partial update.
type Snapshot struct {
	Mode      BanMode
	FetchedAt time.Time

	words map[string]struct{} // lowercased forbidden words
	list  []string            // original order, for logging/inspection
}

// NewSnapshot builds a snapshot from a mode and a forbidden-word list.
// Words are matched case-insensitively; empty entries are dropped.
func NewSnapshot(mode BanMode, words []string) *Snapshot {
	s := &Snapshot{
		Mode:      mode,
		FetchedAt: time.Now(),
		words:     make(map[string]struct{}, len(words)),
	}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		key := strings.ToLower(w)
		if _, ok := s.words[key]; ok {
			continue
		}
		s.words[key] = struct{}{}
		s.list = append(s.list, w)
	}
	return s
}

// Forbidden reports whether word is on the forbidden list. The check is
// case-insensitive.
func (s *Snapshot) Forbidden(word string) bool {
	_, ok := s.words[strings.ToLower(word)]
	return ok
}

// Words returns the forbidden words in their original fetch order.
func (s *Snapshot) Words() []string {
	return s.list
}

// WordCount returns the number of distinct forbidden words.
func (s *Snapshot) WordCount() int {
	return len(s.words)
}
