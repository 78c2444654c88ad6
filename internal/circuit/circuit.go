// Package circuit wraps sony/gobreaker with one named breaker per
// (venue, endpoint) pair, independent of WS reconnect backoff.
package circuit

import (
	"sync"
	"time"

	cb "github.com/sony/gobreaker"

	"github.com/cryptoedge/candlestream/internal/metrics"
)

// Breaker trips after 3 consecutive failures, or after a >5% failure ratio
// once at least 20 requests have been observed in the rolling interval.
type Breaker struct {
	name string
	cb   *cb.CircuitBreaker
}

// New creates a named breaker for venue+endpoint (e.g. "binance", "klines")
// so metrics and logs can attribute trips.
func New(venue, endpoint string) *Breaker {
	name := venue + "." + endpoint
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		if to == cb.StateOpen {
			metrics.CircuitBreakerTrips.WithLabelValues(venue, endpoint).Inc()
		}
	}
	return &Breaker{name: name, cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState when tripped.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// Name returns the breaker's identifying name.
func (b *Breaker) Name() string { return b.name }

// State reports the breaker's current state (closed/open/half-open).
func (b *Breaker) State() cb.State { return b.cb.State() }

// Registry owns one Breaker per (venue, endpoint) key, created on first use.
// Safe for concurrent use by multiple REST clients sharing one registry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for venue+endpoint, creating it on first access.
func (r *Registry) Get(venue, endpoint string) *Breaker {
	key := venue + "." + endpoint
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(venue, endpoint)
	r.breakers[key] = b
	return b
}
