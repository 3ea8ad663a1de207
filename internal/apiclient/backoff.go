package apiclient

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
)

// Backoff policy names accepted by NewBackoff.
const (
	PolicyFixed       = "fixed"
	PolicyRandom      = "random"
	PolicyExponential = "exponential"
)

// Backoff returns the wait before retry number attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
	// Max is the longest delay the policy produces; it also caps Retry-After.
	Max() time.Duration
}

// BackoffConfig selects and bounds a policy.
type BackoffConfig struct {
	Policy string
	Min    time.Duration
	Max    time.Duration
}

// NewBackoff builds the named policy. An empty name selects exponential.
func NewBackoff(cfg BackoffConfig) (Backoff, error) {
	if cfg.Min < 0 || cfg.Max < 0 {
		return nil, fmt.Errorf("backoff bounds must be >= 0")
	}
	if cfg.Max < cfg.Min {
		return nil, fmt.Errorf("backoff max %s is below min %s", cfg.Max, cfg.Min)
	}
	switch strings.ToLower(cfg.Policy) {
	case PolicyFixed:
		return FixedBackoff{Wait: cfg.Min}, nil
	case PolicyRandom:
		return RandomBackoff{Min: cfg.Min, MaxDelay: cfg.Max}, nil
	case PolicyExponential, "":
		return ExponentialBackoff{Base: cfg.Min, MaxDelay: cfg.Max}, nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", cfg.Policy)
	}
}

// FixedBackoff waits the same duration before every retry.
type FixedBackoff struct {
	Wait time.Duration
}

// Delay implements Backoff.
func (b FixedBackoff) Delay(int) time.Duration { return b.Wait }

// Max implements Backoff.
func (b FixedBackoff) Max() time.Duration { return b.Wait }

// RandomBackoff waits a uniform duration in [Min, MaxDelay].
type RandomBackoff struct {
	Min      time.Duration
	MaxDelay time.Duration
}

// Delay implements Backoff.
func (b RandomBackoff) Delay(int) time.Duration {
	return b.Min + randomDuration(b.MaxDelay-b.Min)
}

// Max implements Backoff.
func (b RandomBackoff) Max() time.Duration { return b.MaxDelay }

// ExponentialBackoff doubles Base per attempt up to MaxDelay and keeps the
// upper half of the window plus jitter.
type ExponentialBackoff struct {
	Base     time.Duration
	MaxDelay time.Duration
}

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomDuration(time.Duration(delay)-half)
}

// Max implements Backoff.
func (b ExponentialBackoff) Max() time.Duration { return b.MaxDelay }

// randomDuration returns a uniform value in [0, limit].
func randomDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
