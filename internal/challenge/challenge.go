// Package challenge implements the per-user captcha lifecycle: the challenge
// records, the state machine governing their transitions, and the expiry
// timers that bound the answer window.
//
// The (chatID, userID) key is the unit of mutual exclusion. Every transition
// on a key — creation, answer submission, timer expiry — runs under that
// key's lock, so "the timer fired" and "the user answered" can never both
// win. Whichever actor acquires the lock first consumes the state; the
// loser's action is a defined no-op.
package challenge

import (
	"time"

	"github.com/google/uuid"

	"github.com/groupguard/mod-engine/internal/catalog"
)

// State is a challenge lifecycle state.
type State int

const (
	// StateChallenged is the initial state: the prompt is out and the
	// answer window is open.
	StateChallenged State = iota
	// StatePassed means an accepted answer arrived inside the window.
	StatePassed
	// StateFailed means the challenge was administratively failed.
	StateFailed
	// StateExpired means the answer window elapsed with no accepted answer.
	StateExpired
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateChallenged:
		return "challenged"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s != StateChallenged
}

// Key identifies the single challenge slot a user has in a chat.
type Key struct {
	ChatID int64
	UserID int64
}

// Challenge is one outstanding (or just-resolved) captcha verification.
type Challenge struct {
	ID      string // unique per challenge instance; timers are keyed by it
	Key     Key
	AssetID string
	Image   string
	Answers []string // accepted answer strings, exact match
	Term    string   // the violating token that triggered the challenge

	StartedAt time.Time
	State     State

	TriggerMessageID int64 // the violating message, deleted on enforcement
	PromptMessageID  int64 // the prompt photo, cleaned up on resolution
}

// New creates a Challenge in StateChallenged for the given key and asset.
func New(key Key, asset catalog.Asset, term string, triggerMessageID int64, now time.Time) *Challenge {
	return &Challenge{
		ID:               uuid.NewString(),
		Key:              key,
		AssetID:          asset.ID,
		Image:            asset.Image,
		Answers:          asset.Answers,
		Term:             term,
		StartedAt:        now,
		State:            StateChallenged,
		TriggerMessageID: triggerMessageID,
	}
}

// Accepted reports whether answer exactly matches one of the accepted
// answers. Comparison is case-sensitive, as the prompts instruct.
func (c *Challenge) Accepted(answer string) bool {
	for _, want := range c.Answers {
		if answer == want {
			return true
		}
	}
	return false
}
