// Package backoff spaces out worker polls after consecutive store errors.
// Strategies hold no state and may be shared between loops.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy maps the number of consecutive failures (starting at 1) to the
// pause before the next poll.
type Strategy interface {
	Delay(failures int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(failures int) time.Duration

// Delay calls f.
func (f Func) Delay(failures int) time.Duration { return f(failures) }

// Constant pauses for Interval regardless of how many polls failed.
type Constant struct {
	Interval time.Duration
}

// NewConstant returns a Constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns c.Interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the pause with every failure, starting at Initial and
// never exceeding Max (when Max > 0). With Jitter set the pause is drawn
// uniformly from [0, base] so loops on several hosts spread out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential returns an Exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter returns an Exponential strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns the pause after the given number of failures. Values below
// one count as one.
func (e *Exponential) Delay(failures int) time.Duration {
	failures = max(failures, 1)
	base := float64(e.Initial) * math.Pow(2, float64(failures-1))
	if e.Max > 0 {
		base = math.Min(base, float64(e.Max))
	}
	if e.Jitter {
		base *= rand.Float64() //nolint:gosec // spacing polls needs no crypto rand
	}
	return time.Duration(base)
}

// DefaultStrategy is the pool default: jittered doubling from 100ms up to 10s.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 10*time.Second)
}
