// Package ratelimit provides per-source token-bucket rate limiting for the
// fetch nodes. Acquisition is asynchronous and cancellable: a pending token
// wait honors the caller's context deadline.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Source names known to the default registry.
const (
	SourcePubs   = "pubs"
	SourceTrials = "trials"
	SourceRAG    = "rag"
)

// Limit describes one source's bucket: steady refill rate in tokens per
// second and burst capacity.
type Limit struct {
	RPS   float64
	Burst int
}

// Defaults returns the default per-source limits.
func Defaults() map[string]Limit {
	return map[string]Limit{
		SourcePubs:   {RPS: 2, Burst: 4},
		SourceTrials: {RPS: 2, Burst: 3},
		SourceRAG:    {RPS: 3, Burst: 8},
	}
}

// Registry holds one token bucket per logical source name. Unknown sources
// get a permissive default bucket on first use so a new source never fails
// closed.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates a Registry with the given per-source limits.
// Pass Defaults() for the standard configuration.
func NewRegistry(limits map[string]Limit) *Registry {
	r := &Registry{limiters: make(map[string]*rate.Limiter)}
	for name, l := range limits {
		r.limiters[name] = rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
	}
	return r
}

// Acquire blocks until a token is available for the source or the context is
// done. Returns the context error on cancellation or deadline expiry, so a
// caller deadline shorter than the expected wait fails fast.
func (r *Registry) Acquire(ctx context.Context, source string) error {
	if err := r.limiter(source).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit acquire for %s: %w", source, err)
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming it if so.
func (r *Registry) Allow(source string) bool {
	return r.limiter(source).Allow()
}

func (r *Registry) limiter(source string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[source]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		r.limiters[source] = l
	}
	return l
}
