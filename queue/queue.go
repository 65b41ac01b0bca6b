package queue

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/courier"
	"github.com/xraph/courier/step"
)

// Config defines the limits of one channel.
type Config struct {
	Channel step.Type

	// MaxConcurrency limits how many jobs of this channel may run at once
	// in the local pool. Zero means no channel-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second started for this
	// channel. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when RateLimit
	// is set but RateBurst is zero.
	RateBurst int
}

// FromSections converts the [[channels]] tables of a config file.
func FromSections(sections []courier.ChannelSection) []Config {
	out := make([]Config, 0, len(sections))
	for _, s := range sections {
		out = append(out, Config{
			Channel:        step.Type(s.Name),
			MaxConcurrency: s.MaxConcurrency,
			RateLimit:      s.RateLimit,
			RateBurst:      s.RateBurst,
		})
	}
	return out
}

type channelState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newChannelState(cfg Config) *channelState {
	cs := &channelState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Manager enforces per-channel concurrency and rate limits. It is safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[step.Type]*channelState
}

// NewManager creates a Manager with the given channel configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{channels: make(map[step.Type]*channelState, len(configs))}
	for _, cfg := range configs {
		m.channels[cfg.Channel] = newChannelState(cfg)
	}
	return m
}

// Acquire reports whether a job of the given channel may start now. On true
// the channel's active count is incremented and the caller must call
// Release when the job finishes.
func (m *Manager) Acquire(channel step.Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.channels[channel]
	if cs == nil {
		return true
	}
	// Concurrency first so a refused job does not spend a token.
	if cs.config.MaxConcurrency > 0 && cs.active >= cs.config.MaxConcurrency {
		return false
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	cs.active++
	return true
}

// Release decrements the channel's active count.
func (m *Manager) Release(channel step.Type) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cs := m.channels[channel]; cs != nil && cs.active > 0 {
		cs.active--
	}
}

// SetConfig updates or creates a channel configuration, keeping the current
// active count.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := newChannelState(cfg)
	if existing := m.channels[cfg.Channel]; existing != nil {
		cs.active = existing.active
	}
	m.channels[cfg.Channel] = cs
}

// ActiveCount returns the number of running jobs for a channel.
func (m *Manager) ActiveCount(channel step.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.channels[channel]; cs != nil {
		return cs.active
	}
	return 0
}
