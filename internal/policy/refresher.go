package policy

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/groupguard/mod-engine/internal/metrics"
)

// RefresherConfig holds the refresh cadences. The word list and the ban mode
// refresh on independent schedules.
type RefresherConfig struct {
	WordInterval time.Duration // forbidden-word list refresh period
	ModeInterval time.Duration // ban-mode refresh period
	FetchTimeout time.Duration // per-fetch timeout
}

// DefaultRefresherConfig returns the production cadences: words every 24h,
// mode every hour.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		WordInterval: 24 * time.Hour,
		ModeInterval: 1 * time.Hour,
		FetchTimeout: 30 * time.Second,
	}
}

// Refresher owns the current policy snapshot. It fetches the word list and
// ban mode from a Source on independent tickers, persists successes to the
// Cache, and swaps in a new immutable snapshot on every change. On fetch
// failure the previous snapshot stays in place; message handling never waits
// on a refresh.
type Refresher struct {
	source Source
	cache  *Cache // may be nil (no persistence)
	config RefresherConfig

	mu  sync.Mutex // serializes snapshot swaps from the two schedules
	cur atomic.Pointer[Snapshot]
}

// NewRefresher creates a Refresher seeded with an empty snapshot (mode off,
// no forbidden words). Call WarmStart and Run to populate it.
func NewRefresher(source Source, cache *Cache, config RefresherConfig) *Refresher {
	r := &Refresher{
		source: source,
		cache:  cache,
		config: config,
	}
	r.cur.Store(NewSnapshot(ModeOff, nil))
	return r
}

// Current returns the active policy snapshot. It never returns nil and never
// blocks on the network.
func (r *Refresher) Current() *Snapshot {
	return r.cur.Load()
}

// WarmStart loads the last good policy from the cache, if any. Cache misses
// and errors are logged and ignored; the engine simply starts with the empty
// snapshot until the first refresh lands.
func (r *Refresher) WarmStart(ctx context.Context) {
	if r.cache == nil {
		return
	}

	words, err := r.cache.LoadWords(ctx)
	if err != nil {
		log.Printf("[policy] warm start: load words: %v", err)
	}

	rawMode, err := r.cache.LoadMode(ctx)
	if err != nil {
		log.Printf("[policy] warm start: load mode: %v", err)
	}

	if words == nil && rawMode == "" {
		return
	}

	mode, ok := ParseBanMode(rawMode)
	if rawMode != "" && !ok {
		log.Printf("[policy] warm start: unknown ban mode %q, treating as off", rawMode)
	}

	r.swap(func(old *Snapshot) *Snapshot {
		if words == nil {
			words = old.Words()
		}
		return NewSnapshot(mode, words)
	})
	log.Printf("[policy] warm start: mode=%s words=%d", mode, r.Current().WordCount())
}

// RefreshWords fetches the forbidden-word list and installs it. An empty
// fetch result keeps the previous list (a blank sheet is treated as a source
// glitch, not a policy reset). On error the previous snapshot is kept.
func (r *Refresher) RefreshWords(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	words, err := r.source.FetchForbiddenWords(ctx)
	if err != nil {
		metrics.PolicyRefreshTotal.WithLabelValues("words", "error").Inc()
		return err
	}
	metrics.PolicyRefreshTotal.WithLabelValues("words", "ok").Inc()

	if len(words) == 0 {
		log.Printf("[policy] word refresh returned no rows, keeping previous list")
		return nil
	}

	r.swap(func(old *Snapshot) *Snapshot {
		return NewSnapshot(old.Mode, words)
	})

	if r.cache != nil {
		if err := r.cache.SaveWords(context.WithoutCancel(ctx), words); err != nil {
			log.Printf("[policy] cache words: %v", err)
		}
	}

	log.Printf("[policy] refreshed forbidden words (%d entries)", r.Current().WordCount())
	return nil
}

// RefreshMode fetches the ban mode and installs it. An unknown or empty cell
// value maps to ModeOff with a warning. On error the previous snapshot is
// kept.
func (r *Refresher) RefreshMode(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	raw, err := r.source.FetchBanMode(ctx)
	if err != nil {
		metrics.PolicyRefreshTotal.WithLabelValues("mode", "error").Inc()
		return err
	}
	metrics.PolicyRefreshTotal.WithLabelValues("mode", "ok").Inc()

	mode, ok := ParseBanMode(raw)
	if !ok {
		log.Printf("[policy] unknown ban mode %q, treating as off", raw)
	}

	r.swap(func(old *Snapshot) *Snapshot {
		return NewSnapshot(mode, old.Words())
	})

	if r.cache != nil {
		if err := r.cache.SaveMode(context.WithoutCancel(ctx), raw); err != nil {
			log.Printf("[policy] cache mode: %v", err)
		}
	}

	log.Printf("[policy] refreshed ban mode: %s", mode)
	return nil
}

// Run triggers both refreshes immediately, then keeps them running on their
// independent cadences until ctx is canceled. Failures are logged; the last
// good snapshot stays in effect.
func (r *Refresher) Run(ctx context.Context) {
	if err := r.RefreshWords(ctx); err != nil {
		log.Printf("[policy] initial word refresh: %v", err)
	}
	if err := r.RefreshMode(ctx); err != nil {
		log.Printf("[policy] initial mode refresh: %v", err)
	}

	wordTicker := time.NewTicker(r.config.WordInterval)
	modeTicker := time.NewTicker(r.config.ModeInterval)
	defer wordTicker.Stop()
	defer modeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[policy] refresher stopped")
			return
		case <-wordTicker.C:
			if err := r.RefreshWords(ctx); err != nil {
				log.Printf("[policy] word refresh: %v", err)
			}
		case <-modeTicker.C:
			if err := r.RefreshMode(ctx); err != nil {
				log.Printf("[policy] mode refresh: %v", err)
			}
		}
	}
}

// swap atomically replaces the current snapshot with the result of build,
// serializing concurrent refreshes so neither schedule clobbers the other's
// half of the policy.
func (r *Refresher) swap(build func(old *Snapshot) *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur.Store(build(r.cur.Load()))
}
