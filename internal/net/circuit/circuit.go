package circuit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a venue's breaker rejects a call
var ErrOpen = errors.New("circuit open")

// Config tunes when a venue breaker trips and how long it stays open
type Config struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	FailureRatio        float64       `yaml:"failure_ratio"`
	MinRequests         uint32        `yaml:"min_requests"`
	Interval            time.Duration `yaml:"interval"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

// DefaultConfig trips after 5 straight failures or a 50% failure ratio over 20 calls
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         20,
		Interval:            60 * time.Second,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Key names the breaker guarding one host of a venue
func Key(venue, host string) string {
	if host == "" {
		return venue
	}
	return venue + "/" + host
}

// StateListener is notified on breaker transitions. A listener replaces the default warn log.
type StateListener func(venue string, from, to gobreaker.State)

// Breaker guards calls to one venue host
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker named after its venue
func NewBreaker(venue string, cfg Config, onChange StateListener) *Breaker {
	st := gobreaker.Settings{
		Name:        venue,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
	}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if cfg.FailureRatio <= 0 || counts.Requests < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
	}
	// a caller giving up is not the venue's fault
	st.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		if onChange != nil {
			onChange(name, from, to)
			return
		}
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Call runs fn through the breaker
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Stats returns the current counters
func (b *Breaker) Stats() Stats {
	c := b.cb.Counts()
	return Stats{
		State:               b.cb.State().String(),
		Requests:            c.Requests,
		TotalFailures:       c.TotalFailures,
		ConsecutiveFailures: c.ConsecutiveFailures,
	}
}

// Stats is a JSON friendly view of one breaker
type Stats struct {
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// IsHealthy reports whether calls are flowing
func (s Stats) IsHealthy() bool {
	return s.State != gobreaker.StateOpen.String()
}

// Manager keeps one breaker per key, usually a venue host
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	onChange StateListener
}

// NewManager creates a manager whose breakers share cfg
func NewManager(cfg Config, onChange StateListener) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		onChange: onChange,
	}
}

// Breaker returns the breaker for venue, creating it on first use
func (m *Manager) Breaker(venue string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[venue]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[venue]; ok {
		return b
	}
	b = NewBreaker(venue, m.cfg, m.onChange)
	m.breakers[venue] = b
	return b
}

// Call runs fn through venue's breaker
func (m *Manager) Call(ctx context.Context, venue string, fn func(ctx context.Context) error) error {
	return m.Breaker(venue).Call(ctx, fn)
}

// Stats returns per-venue breaker stats
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for venue, b := range m.breakers {
		out[venue] = b.Stats()
	}
	return out
}

// Unhealthy lists venues whose breaker is open, sorted
func (m *Manager) Unhealthy() []string {
	var out []string
	for venue, s := range m.Stats() {
		if !s.IsHealthy() {
			out = append(out, venue)
		}
	}
	sort.Strings(out)
	return out
}
