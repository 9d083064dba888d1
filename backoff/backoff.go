// Package backoff provides retry delay strategies for failed scrape
// attempts. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// Delay returns how long to wait after a job has made attempt
	// attempts. Attempt 1 is the delay after the first failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with every attempt made.
// Delay = min(Base * 2^attempt, Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^attempt, capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(ceiling(e.Base, e.Max, attempt))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential ceiling.
// Delay = random value in [0, min(Base * 2^attempt, Max)].
// Spreading retries out keeps a recovering supplier from being hit by every
// failed job at once.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^attempt, Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * ceiling(e.Base, e.Max, attempt)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ceiling is min(base * 2^attempt, max) as a float, saturating instead of
// overflowing for large attempt counts.
func ceiling(base, maxDelay time.Duration, attempt int) float64 {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && d > float64(maxDelay) {
		return float64(maxDelay)
	}
	if d > maxCeiling {
		return maxCeiling
	}
	return d
}

// maxCeiling keeps uncapped delays representable as a time.Duration.
const maxCeiling = float64(100 * 365 * 24 * time.Hour)

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// New returns the exponential strategy for base and maxDelay, with full
// jitter when jitter is set.
func New(base, maxDelay time.Duration, jitter bool) Strategy {
	if jitter {
		return NewExponentialWithJitter(base, maxDelay)
	}
	return NewExponential(base, maxDelay)
}

// DefaultStrategy returns the default backoff used by the engine:
// ExponentialWithJitter with a 2s base and 5m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(2*time.Second, 5*time.Minute)
}
