package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// Rate limiter keys for the two kinds of completion calls.
const (
	limiterKeyReply     = "reply"
	limiterKeySummarize = "summarize"
)

// completer makes one bounded, rate-limited provider call. It never retries.
type completer struct {
	provider ports.Provider
	limiter  ports.RateLimiter
	timeout  time.Duration
}

// complete returns the trimmed completion text. Every failure, including a
// refused permit, a deadline and an empty reply, wraps ErrCompletion.
func (c *completer) complete(ctx context.Context, key string, in ports.PromptInput, opts ports.Options) (string, *ports.Usage, error) {
	release, err := c.limiter.Acquire(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: rate limit: %w", ErrCompletion, key, err)
	}
	defer release()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.provider.Complete(ctx, in, opts)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", ErrCompletion, key, err)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", nil, fmt.Errorf("%w: %s: provider returned an empty reply", ErrCompletion, key)
	}
	return text, out.Usage, nil
}
