// Package ratelimit provides per-venue, per-market-type token bucket rate
// limiting for REST clients.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits requests keyed by an arbitrary bucket name (typically
// a market type such as "spot" or "linear").
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a rate limiter with the given requests-per-second and
// burst capacity, applied uniformly to every bucket it creates.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *Limiter) getLimiter(bucket string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[bucket]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[bucket]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[bucket] = lim
	return lim
}

// Allow reports whether a request in bucket may proceed immediately.
func (l *Limiter) Allow(bucket string) bool {
	return l.getLimiter(bucket).Allow()
}

// Wait blocks until a token for bucket is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, bucket string) error {
	return l.getLimiter(bucket).Wait(ctx)
}

// Stats reports the live state of every bucket's limiter.
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Stats, len(l.limiters))
	now := time.Now()
	for bucket, lim := range l.limiters {
		res := lim.Reserve()
		delay := res.Delay()
		res.Cancel()
		out[bucket] = Stats{
			Bucket: bucket, RPS: float64(lim.Limit()), Burst: lim.Burst(),
			TokensAvailable: lim.Tokens(), NextAllowedAt: now.Add(delay), Delay: delay,
		}
	}
	return out
}

// Stats is a point-in-time snapshot of one bucket's token bucket state.
type Stats struct {
	Bucket          string
	RPS             float64
	Burst           int
	TokensAvailable float64
	NextAllowedAt   time.Time
	Delay           time.Duration
}

func (s Stats) Throttled() bool { return s.Delay > 0 }

// Manager owns one Limiter per venue (binance, bybit, okx, kraken). Every
// call to Wait/Allow is keyed by (venue, bucket), where venue is the
// exchange name a REST client was constructed with and bucket is typically
// the market type ("spot", "linear", ...).
//
// Bybit's REST endpoint is shared across spot/linear/inverse market types,
// so its quota must be enforced once regardless of which market type a
// request is for — RegisterSharedVenue registers a venue whose Limiter
// collapses every bucket onto one shared token bucket, rather than
// partitioning tokens per market type the way RegisterVenue does.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	shared   map[string]bool // venues whose bucket argument is ignored
}

func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter), shared: make(map[string]bool)}
}

// RegisterVenue installs a dedicated limiter for venue at the given rps and
// burst, with one independent token bucket per distinct bucket name passed
// to Wait/Allow (e.g. per market type).
func (m *Manager) RegisterVenue(venue string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[venue] = NewLimiter(rps, burst)
	delete(m.shared, venue)
}

// sharedBucket is the single internal bucket name a shared-venue Limiter
// uses regardless of the market type passed by the caller.
const sharedBucket = "shared"

// RegisterSharedVenue installs a limiter for venue whose quota is shared
// across every bucket name passed to Wait/Allow — all market types draw
// from the same token bucket, as required for venues (Bybit) whose REST
// rate limit is enforced once across all market types rather than per type.
func (m *Manager) RegisterSharedVenue(venue string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[venue] = NewLimiter(rps, burst)
	m.shared[venue] = true
}

func (m *Manager) get(venue string) (*Limiter, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[venue]
	if !ok {
		return nil, "", false
	}
	if m.shared[venue] {
		return l, sharedBucket, true
	}
	return l, "", true
}

// Wait blocks until a token is available for (venue, bucket). Venues with no
// registered limiter proceed unthrottled.
func (m *Manager) Wait(ctx context.Context, venue, bucket string) error {
	l, forced, ok := m.get(venue)
	if !ok {
		return nil
	}
	if forced != "" {
		bucket = forced
	}
	return l.Wait(ctx, bucket)
}

// Allow reports whether (venue, bucket) may proceed immediately.
func (m *Manager) Allow(venue, bucket string) bool {
	l, forced, ok := m.get(venue)
	if !ok {
		return true
	}
	if forced != "" {
		bucket = forced
	}
	return l.Allow(bucket)
}

// Stats reports per-venue, per-bucket limiter state.
func (m *Manager) Stats() map[string]map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]Stats, len(m.limiters))
	for venue, l := range m.limiters {
		out[venue] = l.Stats()
	}
	return out
}
