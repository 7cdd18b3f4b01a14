package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// RateLimitError reports a refused permit.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, retry after %s", e.Key, e.RetryAfter)
}

// TokenBucket is a per-key token bucket. Acquire never blocks: an empty
// bucket refuses immediately with a *RateLimitError.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration // one token per interval
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes one token for key. The returned release is a no-op; tokens
// come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if add := int(now.Sub(b.lastRefill) / tb.refillRate); add > 0 {
		b.tokens = min(b.tokens+add, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(add) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, &RateLimitError{Key: key, RetryAfter: b.lastRefill.Add(tb.refillRate).Sub(now)}
	}
	b.tokens--
	return func() {}, nil
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
