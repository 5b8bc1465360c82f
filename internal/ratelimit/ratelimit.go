// Package ratelimit enforces the per-host request gate: each HTTP
// session is limited to rate_limit_per_minute
// requests per minute against its own host, independent of every other
// session in the process.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates requests to a single minute-denominated rate on top of
// golang.org/x/time/rate.
type Limiter struct {
	perMinute float64
	limiter   *rate.Limiter
}

// New builds a Limiter allowing perMinute requests per minute, with a
// burst of 1 so the configured per-host gap is always honored even for
// the first request after a long idle period.
func New(perMinute float64) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Limiter{
		perMinute: perMinute,
		limiter:   rate.NewLimiter(rate.Limit(perMinute/60.0), 1),
	}
}

// Wait blocks until the next request to this host is permitted, or ctx
// is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Registry hands out one Limiter per host, so every collector session
// sharing a process rate-limits itself against the same upstream
// independently of every other host it talks to.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	default_ float64
}

// NewRegistry builds a Registry whose limiters default to
// defaultPerMinute requests/minute unless overridden per host via
// SetLimit.
func NewRegistry(defaultPerMinute float64) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		default_: defaultPerMinute,
	}
}

// SetLimit fixes the per-minute rate for a specific host, creating its
// Limiter if absent.
func (r *Registry) SetLimit(host string, perMinute float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[host] = New(perMinute)
}

// For returns the Limiter for host, creating one at the registry
// default rate on first use.
func (r *Registry) For(host string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[host]
	if !ok {
		l = New(r.default_)
		r.limiters[host] = l
	}
	return l
}
