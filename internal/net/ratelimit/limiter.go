package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides per-host token buckets for one venue
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a limiter handing out rps tokens per second per host with the given burst
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.limiters[host]; ok {
		return b
	}
	limit := rate.Limit(l.rps)
	if l.rps <= 0 {
		limit = rate.Inf
	}
	b = rate.NewLimiter(limit, l.burst)
	l.limiters[host] = b
	return b
}

// Allow reports whether a request to host may proceed now
func (l *Limiter) Allow(host string) bool {
	return l.bucket(host).Allow()
}

// Wait blocks until host has a token or ctx is done
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.bucket(host).Wait(ctx)
}

// Stats returns a view of every host bucket
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats, len(l.limiters))
	for host, b := range l.limiters {
		stats[host] = LimiterStats{
			Host:            host,
			RPS:             float64(b.Limit()),
			Burst:           b.Burst(),
			TokensAvailable: b.Tokens(),
		}
	}
	return stats
}

// LimiterStats describes one host bucket
type LimiterStats struct {
	Host            string  `json:"host"`
	RPS             float64 `json:"rps"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// IsThrottled reports whether the next request would have to wait
func (s LimiterStats) IsThrottled() bool {
	return s.TokensAvailable < 1
}

// Manager keeps one Limiter per venue
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddVenue registers a limiter for venue, replacing any previous one
func (m *Manager) AddVenue(venue string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[venue] = NewLimiter(rps, burst)
}

// Limiter returns the limiter for venue
func (m *Manager) Limiter(venue string) (*Limiter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[venue]
	return l, ok
}

// Wait blocks for a token on venue/host. Unknown venues are not limited.
func (m *Manager) Wait(ctx context.Context, venue, host string) error {
	l, ok := m.Limiter(venue)
	if !ok {
		return nil
	}
	return l.Wait(ctx, host)
}

// Stats returns per-venue, per-host bucket stats
func (m *Manager) Stats() map[string]map[string]LimiterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]LimiterStats, len(m.limiters))
	for venue, l := range m.limiters {
		out[venue] = l.Stats()
	}
	return out
}
