// Package ratelimit implements per-host token buckets for outbound API calls.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Limiter manages per-host rate limits plus cooldowns requested by the server.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostState
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

type hostState struct {
	limiter     *rate.Limiter
	pausedUntil time.Time
}

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		hosts:        make(map[string]*hostState),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Wait blocks until the host of rawURL is out of cooldown and a token is
// available, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	state := l.state(host)
	pause := state.pausedUntil.Sub(l.now())
	l.mu.Unlock()

	start := time.Now()
	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Pause holds back every request to the host of rawURL for d. Overlapping
// pauses keep the later deadline.
func (l *Limiter) Pause(rawURL string, d time.Duration) {
	if d <= 0 {
		return
	}
	host := hostOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.state(host)
	if until := l.now().Add(d); until.After(state.pausedUntil) {
		state.pausedUntil = until
	}
}

// state must be called with l.mu held.
func (l *Limiter) state(host string) *hostState {
	s, ok := l.hosts[host]
	if !ok {
		s = &hostState{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.hosts[host] = s
	}
	return s
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
