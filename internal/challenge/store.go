package challenge

import (
	"sync"
	"time"

	"github.com/groupguard/mod-engine/internal/metrics"
)

// Outcome classifies what an answer submission did to a challenge.
type Outcome int

const (
	// OutcomeNoChallenge means the key has no challenge record.
	OutcomeNoChallenge Outcome = iota
	// OutcomePassed means the answer was accepted inside the window.
	OutcomePassed
	// OutcomeRetry means the answer was wrong but the window is still open;
	// the sender gets a re-prompt and stays Challenged.
	OutcomeRetry
	// OutcomeLate means the answer arrived at or after the deadline. The
	// expiry timer owns the terminal transition; the answer is ignored even
	// if correct.
	OutcomeLate
	// OutcomeFinalized means the record was already terminal; the message
	// consumed it and the record was discarded.
	OutcomeFinalized
)

// SubmitResult reports the outcome of Submit along with a copy of the
// challenge as it stood after the transition.
type SubmitResult struct {
	Outcome   Outcome
	Challenge Challenge
	Elapsed   time.Duration
}

// entry is the per-key lock cell. ch is nil once the slot has been consumed.
type entry struct {
	mu sync.Mutex
	ch *Challenge
}

// Store holds the challenge table. The table mutex guards only map access;
// every state transition runs under the per-key entry mutex, so unrelated
// users never serialize against each other.
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// NewStore creates an empty challenge store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]*entry)}
}

func (s *Store) lookup(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key]
}

func (s *Store) getOrCreate(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Begin installs ch as the active challenge for its key. If the key already
// holds a challenge — active or terminal — that record is displaced and
// returned so the caller can cancel its timer before the new state takes
// effect. A nil return means the slot was empty.
func (s *Store) Begin(ch *Challenge) (replaced *Challenge) {
	e := s.getOrCreate(ch.Key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ch != nil {
		old := *e.ch
		replaced = &old
		if old.State == StateChallenged {
			metrics.ChallengesTotal.WithLabelValues("replaced").Inc()
			metrics.ChallengesActive.Dec()
		}
	}
	e.ch = ch
	metrics.ChallengesActive.Inc()
	return replaced
}

// Get returns a copy of the challenge for key, if any.
func (s *Store) Get(key Key) (Challenge, bool) {
	e := s.lookup(key)
	if e == nil {
		return Challenge{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch == nil {
		return Challenge{}, false
	}
	return *e.ch, true
}

// Active reports whether key currently holds a challenge in StateChallenged.
func (s *Store) Active(key Key) bool {
	ch, ok := s.Get(key)
	return ok && ch.State == StateChallenged
}

// Submit applies an answer to the key's challenge. Transition rules:
//
//	Challenged + accepted answer, elapsed < window  -> Passed
//	Challenged + wrong answer,    elapsed < window  -> Challenged (retry)
//	Challenged + any answer,      elapsed >= window -> no-op (timer owns it)
//	terminal state                                  -> consume and discard
func (s *Store) Submit(key Key, answer string, now time.Time, window time.Duration) SubmitResult {
	e := s.lookup(key)
	if e == nil {
		return SubmitResult{Outcome: OutcomeNoChallenge}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := e.ch
	if ch == nil {
		return SubmitResult{Outcome: OutcomeNoChallenge}
	}

	elapsed := now.Sub(ch.StartedAt)

	if ch.State.Terminal() {
		out := *ch
		e.ch = nil
		return SubmitResult{Outcome: OutcomeFinalized, Challenge: out, Elapsed: elapsed}
	}

	if elapsed >= window {
		return SubmitResult{Outcome: OutcomeLate, Challenge: *ch, Elapsed: elapsed}
	}

	if ch.Accepted(answer) {
		ch.State = StatePassed
		metrics.ChallengesTotal.WithLabelValues("passed").Inc()
		metrics.ChallengesActive.Dec()
		return SubmitResult{Outcome: OutcomePassed, Challenge: *ch, Elapsed: elapsed}
	}

	return SubmitResult{Outcome: OutcomeRetry, Challenge: *ch, Elapsed: elapsed}
}

// Expire transitions the challenge to Expired, provided the record with the
// given ID is still present and still Challenged. Returns (copy, true) on
// transition; (zero, false) means the timer lost the race — the challenge
// was answered, replaced, or already resolved — and the fire is a no-op.
func (s *Store) Expire(key Key, challengeID string) (Challenge, bool) {
	e := s.lookup(key)
	if e == nil {
		return Challenge{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ch := e.ch
	if ch == nil || ch.ID != challengeID || ch.State != StateChallenged {
		return Challenge{}, false
	}

	ch.State = StateExpired
	metrics.ChallengesTotal.WithLabelValues("expired").Inc()
	metrics.ChallengesActive.Dec()
	return *ch, true
}

// SetPromptMessageID records the prompt photo's message ID on the challenge
// with the given ID, for cleanup after resolution. A mismatched or missing
// record is a no-op (the challenge was already replaced or consumed).
func (s *Store) SetPromptMessageID(key Key, challengeID string, messageID int64) {
	e := s.lookup(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch != nil && e.ch.ID == challengeID {
		e.ch.PromptMessageID = messageID
	}
}

// Remove discards the record for key if it still holds the challenge with
// the given ID. Idempotent.
func (s *Store) Remove(key Key, challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}

	e.mu.Lock()
	if e.ch != nil && e.ch.ID == challengeID {
		if e.ch.State == StateChallenged {
			metrics.ChallengesActive.Dec()
		}
		e.ch = nil
	}
	removable := e.ch == nil
	e.mu.Unlock()

	if removable {
		delete(s.entries, key)
	}
}

// ActiveCount returns the number of keys currently holding a challenge in
// StateChallenged.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.ch != nil && e.ch.State == StateChallenged {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
