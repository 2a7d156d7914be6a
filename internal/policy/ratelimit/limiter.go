// Package ratelimit implements per-host token buckets so every fetch against a
// source respects that source's politeness budget.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// OnDelay observes waits longer than a millisecond.
	OnDelay func(host string, waited time.Duration)
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
	onDelay      func(string, time.Duration)
}

// New creates a new Limiter. A non-positive DefaultRPS means unlimited.
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
		limiters:     make(map[string]*rate.Limiter),
		overrides:    make(map[string]rate.Limit),
		defaultRate:  r,
		defaultBurst: burst,
		onDelay:      cfg.OnDelay,
	}
}

// SetRate overrides the rate for host. Non-positive rps leaves the default.
func (l *Limiter) SetRate(host string, rps float64) {
	if rps <= 0 {
		return
	}
	host = strings.ToLower(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[host] = rate.Limit(rps)
	if existing, ok := l.limiters[host]; ok {
		existing.SetLimit(rate.Limit(rps))
	}
}

// Wait blocks until a token is available for the URL's host, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := harvest.HostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.onDelay != nil {
		l.onDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		r := l.defaultRate
		if override, found := l.overrides[host]; found {
			r = override
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}
