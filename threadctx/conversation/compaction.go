package conversation

import (
	"context"
	"fmt"
	"math"
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// CompactionPolicy decides when and how much history is folded into the summary.
type CompactionPolicy struct {
	CompressAfterTokens int
	MinChunk            int
	ChunkFraction       float64
}

// CompactionResult reports what a compaction did.
type CompactionResult struct {
	Compacted    bool
	Removed      int
	TokensBefore int
	TokensAfter  int
}

// Compactor summarizes the oldest messages of a thread and drops them.
// It never mutates the state it is given.
type Compactor struct {
	policy      CompactionPolicy
	assembler   *ContextAssembler
	completer   *completer
	opts        ports.Options
	placeholder string
}

// NewCompactor builds a Compactor. A nil limiter admits every call; a zero
// timeout leaves the caller's deadline in charge.
func NewCompactor(
	p CompactionPolicy,
	a *ContextAssembler,
	provider ports.Provider,
	limiter ports.RateLimiter,
	timeout time.Duration,
	opts ports.Options,
	placeholder string,
) *Compactor {
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	return &Compactor{
		policy:      p,
		assembler:   a,
		completer:   &completer{provider: provider, limiter: limiter, timeout: timeout},
		opts:        opts,
		placeholder: placeholder,
	}
}

// ShouldCompact reports whether the estimated cost of all messages has
// reached the compaction threshold. Each message costs its estimate plus
// the per-message overhead, the same figure the assembler budgets with.
func (c *Compactor) ShouldCompact(state ThreadState) bool {
	return len(state.Messages) > 0 && c.assembler.TotalCost(state.Messages) >= c.policy.CompressAfterTokens
}

// ChunkSize is the number of oldest messages one compaction removes from a
// thread holding n messages.
func (c *Compactor) ChunkSize(n int) int {
	size := max(c.policy.MinChunk, int(math.Floor(float64(n)*c.policy.ChunkFraction)))
	return min(size, n)
}

// Compact summarizes the oldest chunk into the running summary and returns
// the shortened state. On error the returned state is the input unchanged.
func (c *Compactor) Compact(ctx context.Context, state ThreadState, now time.Time) (ThreadState, CompactionResult, error) {
	before := c.assembler.TotalCost(state.Messages)
	res := CompactionResult{TokensBefore: before, TokensAfter: before}

	n := c.ChunkSize(len(state.Messages))
	if n == 0 {
		return state, res, nil
	}

	in := buildSummaryPrompt(state.ID, state.Summary, c.placeholder, state.Messages[:n])
	summary, _, err := c.completer.complete(ctx, limiterKeySummarize, in, c.opts)
	if err != nil {
		return state, res, fmt.Errorf("summarize thread %s: %w", state.ID, err)
	}

	next := state.Compacted(n, summary, now)
	if len(next.Messages) != len(state.Messages)-n {
		return state, res, fmt.Errorf("%w: compaction of %s kept %d of %d messages after removing %d",
			ErrInvariantViolation, state.ID, len(next.Messages), len(state.Messages), n)
	}

	res.Compacted = true
	res.Removed = n
	res.TokensAfter = c.assembler.TotalCost(next.Messages)
	return next, res, nil
}

// MaybeCompact runs Compact when ShouldCompact holds.
func (c *Compactor) MaybeCompact(ctx context.Context, state ThreadState, now time.Time) (ThreadState, CompactionResult, error) {
	if !c.ShouldCompact(state) {
		cost := c.assembler.TotalCost(state.Messages)
		return state, CompactionResult{TokensBefore: cost, TokensAfter: cost}, nil
	}
	return c.Compact(ctx, state, now)
}
