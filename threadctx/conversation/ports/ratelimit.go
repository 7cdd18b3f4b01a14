package convports

import "context"

// RateLimiter gates calls to the completion service. key distinguishes call
// purposes ("reply", "summarize") so each can have its own bucket.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
