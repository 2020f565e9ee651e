// Package ratelimit implements a token bucket rate limiter for per-domain rate control.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/metrics"
)

// Rule is the token bucket applied to one domain.
type Rule struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Domains overrides the default rule for specific hostnames.
	Domains map[string]Rule
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fallback Rule
	domains  map[string]Rule
}

// New creates a new Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	domains := make(map[string]Rule, len(cfg.Domains))
	for host, rule := range cfg.Domains {
		domains[strings.ToLower(host)] = rule
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		fallback: Rule{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		domains:  domains,
	}
}

// Wait blocks until a token is available for the URL's domain, respecting the context.
func (l *Limiter) Wait(ctx context.Context, url string) error {
	domain := crawler.HostOf(url)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a histogram sample.
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, duration)
	}
	return nil
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		rule, ok := l.domains[domain]
		if !ok {
			rule = l.fallback
		}
		limiter = newLimiter(rule)
		l.limiters[domain] = limiter
	}
	return limiter
}

func newLimiter(rule Rule) *rate.Limiter {
	r := rate.Limit(rule.RPS)
	if rule.RPS <= 0 {
		r = rate.Inf
	}
	burst := rule.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(r, burst)
}
