// Package ratelimit provides per-client token-bucket admission control for
// the external-boundary facade: one independent bucket set per endpoint
// family (upload, summary), keyed by client identifier.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry lazily creates and retains one rate.Limiter per client key, all
// sharing the same rate/burst configuration.
type Registry struct {
	ratePerMinute int
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
}

// NewRegistry creates a Registry issuing limiters of ratePerMinute tokens
// per minute with a burst equal to that same rate.
func NewRegistry(ratePerMinute int) *Registry {
	return &Registry{
		ratePerMinute: ratePerMinute,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Limiter returns the limiter for clientKey, creating it on first use.
func (r *Registry) Limiter(clientKey string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[clientKey]; ok {
		return l
	}
	perSecond := rate.Limit(float64(r.ratePerMinute) / 60.0)
	l := rate.NewLimiter(perSecond, r.ratePerMinute)
	r.limiters[clientKey] = l
	return l
}

// Allow reports whether clientKey may proceed right now, consuming a
// token if so. Used at the facade boundary, which answers 429 at once
// rather than blocking the request; no retry_after hint is computed.
func (r *Registry) Allow(clientKey string) bool {
	return r.Limiter(clientKey).Allow()
}
