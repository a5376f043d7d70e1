package challenge

import (
	"sync"
	"time"
)

// Scheduler runs one expiry timer per active challenge. Timers are keyed by
// challenge ID. Cancel is idempotent and tolerates being called after the
// timer has already fired; the fire callback itself is expected to no-op if
// the challenge has left StateChallenged (Store.Expire enforces that).
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[string]*time.Timer)}
}

// Schedule arms a timer that invokes fire after d, unless canceled first.
// Scheduling a duplicate ID replaces (and stops) the previous timer.
func (s *Scheduler) Schedule(id string, d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.Stop()
	}

	// The callback takes the mutex before running fire, so even a timer
	// that expires immediately observes its own map entry.
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fire()
	})
}

// Cancel stops the timer for id. Canceling an unknown or already-fired
// timer is a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
