// Package ratelimit throttles outbound requests per push service origin.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// OriginLimiter applies one token bucket per key (a push service origin).
// A nil *OriginLimiter never blocks.
type OriginLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

// New returns nil when rps or burst is not positive, which disables limiting.
func New(rps float64, burst int) *OriginLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &OriginLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		byKey: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to key may proceed or ctx is done.
func (l *OriginLimiter) Wait(ctx context.Context, key string) error {
	if l == nil || key == "" {
		return nil
	}
	return l.limiter(key).Wait(ctx)
}

func (l *OriginLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.byKey[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byKey[key] = lim
	}
	return lim
}
