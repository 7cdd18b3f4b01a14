package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// Manager owns the conversation lifecycle. Operations on one thread id are
// serialized; different ids proceed in parallel.
type Manager struct {
	store     ports.ThreadStore
	assembler *ContextAssembler
	compactor *Compactor
	replies   *completer
	settings  Settings

	limiter ports.RateLimiter
	tracer  ports.Tracer
	metrics ports.Metrics
	logger  zerolog.Logger
	locks   *lockTable
	now     func() time.Time
	newID   func() (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides UUIDv7 ids for threads and messages.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithRateLimiter(l ports.RateLimiter) Option {
	return func(m *Manager) { m.limiter = l }
}

func WithTracer(t ports.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithMetrics(mt ports.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager wires a Manager around store and provider.
func NewManager(store ports.ThreadStore, provider ports.Provider, s Settings, opts ...Option) (*Manager, error) {
	if store == nil || provider == nil {
		return nil, fmtInvalid("store and provider are required")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Estimator == nil {
		s.Estimator = CharEstimator
	}
	if s.MaxConcurrentCompactions < 1 {
		s.MaxConcurrentCompactions = 1
	}

	m := &Manager{
		store:    store,
		settings: s,
		limiter:  &noOpRateLimiter{},
		tracer:   &noOpTracer{},
		metrics:  &noOpMetrics{},
		logger:   zerolog.Nop(),
		locks:    newLockTable(),
		now:      time.Now,
		newID:    newUUIDv7,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.assembler = NewContextAssembler(Budget{
		MaxPromptTokens:       s.MaxPromptTokens,
		KeepRecent:            s.KeepRecent,
		MessageOverheadTokens: s.MessageOverheadTokens,
	}, s.SystemPrompt, s.SummaryPlaceholder, s.Estimator)
	m.compactor = NewCompactor(CompactionPolicy{
		CompressAfterTokens: s.CompressAfterTokens,
		MinChunk:            s.MinChunk,
		ChunkFraction:       s.ChunkFraction,
	}, m.assembler, provider, m.limiter, s.CompletionTimeout, s.Summarize, s.SummaryPlaceholder)
	m.replies = &completer{provider: provider, limiter: m.limiter, timeout: s.CompletionTimeout}
	return m, nil
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Assembler exposes the assembler the manager uses.
func (m *Manager) Assembler() *ContextAssembler { return m.assembler }

// Compactor exposes the compaction engine the manager uses.
func (m *Manager) Compactor() *Compactor { return m.compactor }

// InitThread creates an empty thread. An empty id is replaced by a fresh
// UUIDv7. Initializing an existing thread is a no-op that returns its id.
func (m *Manager) InitThread(ctx context.Context, threadID string) (string, error) {
	if threadID == "" {
		id, err := m.newID()
		if err != nil {
			return "", fmt.Errorf("generate thread id: %w", err)
		}
		threadID = id
	}

	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return "", err
	}
	defer unlock()

	_, err = m.store.Get(ctx, threadID)
	switch {
	case err == nil:
		return threadID, nil
	case !errors.Is(err, ports.ErrNotFound):
		return "", fmt.Errorf("%w: load thread %s: %w", ErrStorage, threadID, err)
	}

	if err := m.save(ctx, ports.NewThreadState(threadID, m.now())); err != nil {
		return "", err
	}
	m.logger.Debug().Str("thread_id", threadID).Msg("thread initialized")
	return threadID, nil
}

// AddUserMessage appends a user message and persists the thread.
func (m *Manager) AddUserMessage(ctx context.Context, threadID, text string) (Message, error) {
	return m.appendMessage(ctx, threadID, RoleUser, text)
}

// AddAssistantMessage appends an assistant message and persists the thread.
func (m *Manager) AddAssistantMessage(ctx context.Context, threadID, text string) (Message, error) {
	return m.appendMessage(ctx, threadID, RoleAssistant, text)
}

func (m *Manager) appendMessage(ctx context.Context, threadID string, role Role, text string) (Message, error) {
	msg, err := m.newMessage(role, text)
	if err != nil {
		return Message{}, err
	}

	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return Message{}, err
	}
	defer unlock()

	state, err := m.load(ctx, threadID)
	if err != nil {
		return Message{}, err
	}
	state = state.WithMessage(msg)
	if err := m.save(ctx, state); err != nil {
		return Message{}, err
	}
	return state.Messages[len(state.Messages)-1], nil
}

// Generate runs one conversational turn: it appends the user message,
// compacts when over threshold, assembles the prompt, asks the provider for
// a reply and appends it. The thread is written once, after the reply
// arrives; on any failure the stored thread is left as it was. That includes
// a compaction done earlier in the same turn, so the next turn summarizes
// the same chunk again.
func (m *Manager) Generate(ctx context.Context, threadID, userText string) (reply string, err error) {
	start := time.Now()
	ctx, finish := m.tracer.StartSpan(ctx, "generate", map[string]any{"thread_id": threadID})
	defer func() {
		finish(err)
		m.metrics.ObserveTurn(time.Since(start), err)
	}()

	userMsg, err := m.newMessage(RoleUser, userText)
	if err != nil {
		return "", err
	}

	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return "", err
	}
	defer unlock()

	state, err := m.load(ctx, threadID)
	if err != nil {
		return "", err
	}
	state = state.WithMessage(userMsg)

	state, _, err = m.compact(ctx, state)
	if err != nil {
		return "", err
	}

	asm := m.assembler.Assemble(state)
	if err := m.checkAssembly(ctx, state, asm); err != nil {
		return "", err
	}

	text, usage, err := m.replies.complete(ctx, limiterKeyReply, asm.PromptInput(map[string]string{
		"thread_id": threadID,
		"purpose":   limiterKeyReply,
	}), m.settings.Reply)
	if err != nil {
		m.logger.Warn().Err(err).Str("thread_id", threadID).Msg("reply failed")
		return "", err
	}

	assistantMsg, err := m.newMessage(RoleAssistant, text)
	if err != nil {
		return "", err
	}
	state = state.WithMessage(assistantMsg)
	if err := m.save(ctx, state); err != nil {
		return "", err
	}

	ev := m.logger.Debug().Str("thread_id", threadID).Int("messages", len(state.Messages)).Int("prompt_tokens", asm.Tokens)
	if usage != nil {
		ev = ev.Int("provider_total_tokens", usage.TotalTokens)
	}
	ev.Msg("turn completed")
	return text, nil
}

// MaybeCompress compacts the thread if it is over threshold and persists
// the result. A failed summarization leaves the stored thread untouched.
func (m *Manager) MaybeCompress(ctx context.Context, threadID string) (CompactionResult, error) {
	unlock, err := m.lock(ctx, threadID)
	if err != nil {
		return CompactionResult{}, err
	}
	defer unlock()

	state, err := m.load(ctx, threadID)
	if err != nil {
		return CompactionResult{}, err
	}
	next, res, err := m.compact(ctx, state)
	if err != nil || !res.Compacted {
		return res, err
	}
	if err := m.save(ctx, next); err != nil {
		return CompactionResult{}, err
	}
	return res, nil
}

// GetThreadView returns a snapshot of the thread. It does not wait for
// in-flight turns; stores replace states atomically so the snapshot is
// always a committed state.
func (m *Manager) GetThreadView(ctx context.Context, threadID string) (ThreadView, error) {
	state, err := m.load(ctx, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	return newThreadView(state), nil
}

// AssembleContext previews the context the thread would submit if the
// provider were called now, without appending or compacting anything.
func (m *Manager) AssembleContext(ctx context.Context, threadID string) (Assembly, error) {
	state, err := m.load(ctx, threadID)
	if err != nil {
		return Assembly{}, err
	}
	return m.assembler.Assemble(state), nil
}

// CompactThreads runs MaybeCompress for each id on a bounded pool. Results
// are returned for the threads that succeeded; errors are joined.
func (m *Manager) CompactThreads(ctx context.Context, threadIDs []string) (map[string]CompactionResult, error) {
	var mu sync.Mutex
	results := make(map[string]CompactionResult, len(threadIDs))

	p := pool.New().WithMaxGoroutines(m.settings.MaxConcurrentCompactions).WithContext(ctx)
	for _, id := range threadIDs {
		p.Go(func(ctx context.Context) error {
			res, err := m.MaybeCompress(ctx, id)
			if err != nil {
				return fmt.Errorf("thread %s: %w", id, err)
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	err := p.Wait()
	return results, err
}

// CompactAll sweeps every stored thread whose id has prefix. The store must
// implement ports.ThreadLister.
func (m *Manager) CompactAll(ctx context.Context, prefix string) (map[string]CompactionResult, error) {
	lister, ok := m.store.(ports.ThreadLister)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrStorage, ports.ErrListingUnsupported)
	}
	ids, err := lister.IDs(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list threads: %w", ErrStorage, err)
	}
	return m.CompactThreads(ctx, ids)
}

// compact runs at most one compaction, and only when the thread is over
// threshold.
func (m *Manager) compact(ctx context.Context, state ThreadState) (ThreadState, CompactionResult, error) {
	if !m.compactor.ShouldCompact(state) {
		cost := m.assembler.TotalCost(state.Messages)
		return state, CompactionResult{TokensBefore: cost, TokensAfter: cost}, nil
	}

	start := time.Now()
	ctx, finish := m.tracer.StartSpan(ctx, "compact", map[string]any{
		"thread_id": state.ID,
		"messages":  len(state.Messages),
	})
	next, res, err := m.compactor.Compact(ctx, state, m.now())
	finish(err)
	m.metrics.ObserveCompaction(res.Removed, time.Since(start), err)
	if err != nil {
		m.logger.Warn().Err(err).Str("thread_id", state.ID).Msg("compaction failed")
		return state, res, err
	}

	m.logger.Info().
		Str("thread_id", state.ID).
		Int("removed", res.Removed).
		Int("tokens_before", res.TokensBefore).
		Int("tokens_after", res.TokensAfter).
		Dur("duration", time.Since(start)).
		Msg("thread compacted")
	return next, res, nil
}

// checkAssembly enforces the prompt budget and records prompt shape.
func (m *Manager) checkAssembly(ctx context.Context, state ThreadState, asm Assembly) error {
	m.metrics.ObservePrompt(asm.Tokens, len(asm.Selected)+1)

	if len(asm.Selected) > 0 && asm.Tokens > m.settings.MaxPromptTokens {
		return fmt.Errorf("%w: assembled %d tokens for thread %s, budget %d",
			ErrInvariantViolation, asm.Tokens, state.ID, m.settings.MaxPromptTokens)
	}
	for i := 1; i < len(asm.Selected); i++ {
		if asm.Selected[i].CreatedAt.Before(asm.Selected[i-1].CreatedAt) || asm.Selected[i].ID == asm.Selected[i-1].ID {
			return fmt.Errorf("%w: assembled context for thread %s is out of order at %d",
				ErrInvariantViolation, state.ID, i)
		}
	}

	if asm.NewestExcluded {
		m.tracer.Event(ctx, "recent_window_truncated", map[string]any{
			"thread_id":     state.ID,
			"selected":      len(asm.Selected),
			"prompt_tokens": asm.Tokens,
		})
		m.logger.Warn().Str("thread_id", state.ID).Msg("newest message did not fit the prompt budget")
	}
	return nil
}

func (m *Manager) newMessage(role Role, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyContent
	}
	id, err := m.newID()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}
	return Message{ID: id, Role: role, Content: text, CreatedAt: m.now()}, nil
}

func (m *Manager) lock(ctx context.Context, threadID string) (func(), error) {
	unlock, err := m.locks.lock(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("wait for thread %s: %w", threadID, err)
	}
	return unlock, nil
}

func (m *Manager) load(ctx context.Context, threadID string) (ThreadState, error) {
	state, err := m.store.Get(ctx, threadID)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return ThreadState{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	case err != nil:
		return ThreadState{}, fmt.Errorf("%w: load thread %s: %w", ErrStorage, threadID, err)
	case state.ID != threadID:
		return ThreadState{}, fmt.Errorf("%w: store returned thread %q for %q", ErrStorage, state.ID, threadID)
	}
	return state, nil
}

func (m *Manager) save(ctx context.Context, state ThreadState) error {
	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("%w: save thread %s: %w", ErrStorage, state.ID, err)
	}
	return nil
}
