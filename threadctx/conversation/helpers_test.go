package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// StubProvider implements Provider for testing. Summarization calls are
// told apart from replies by the "purpose" meta key.
type StubProvider struct {
	mu        sync.Mutex
	calls     []ports.PromptInput
	replyFunc func(ctx context.Context, in ports.PromptInput) (string, error)
	sumFunc   func(ctx context.Context, in ports.PromptInput) (string, error)
}

func (p *StubProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, in)
	p.mu.Unlock()

	fn := p.replyFunc
	if in.Meta["purpose"] == "summarize" {
		fn = p.sumFunc
	}
	if fn == nil {
		if in.Meta["purpose"] == "summarize" {
			return ports.Completion{Text: "- summary"}, nil
		}
		last := "(nothing)"
		if n := len(in.Messages); n > 0 {
			last = in.Messages[n-1].Content
		}
		return ports.Completion{Text: "echo: " + last, Usage: &ports.Usage{TotalTokens: 7}}, nil
	}
	text, err := fn(ctx, in)
	return ports.Completion{Text: text}, err
}

func (p *StubProvider) Calls() []ports.PromptInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.PromptInput(nil), p.calls...)
}

func (p *StubProvider) callsFor(purpose string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Meta["purpose"] == purpose {
			n++
		}
	}
	return n
}

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

// stubThreadStore is a map-backed ThreadStore with failure injection.
type stubThreadStore struct {
	mu      sync.Mutex
	threads map[string]ports.ThreadState
	getErr  error
	saveErr error
	saves   atomic.Int32
}

func newStubThreadStore() *stubThreadStore {
	return &stubThreadStore{threads: make(map[string]ports.ThreadState)}
}

func (s *stubThreadStore) Get(ctx context.Context, id string) (ports.ThreadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return ports.ThreadState{}, s.getErr
	}
	st, ok := s.threads[id]
	if !ok {
		return ports.ThreadState{}, ports.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *stubThreadStore) Save(ctx context.Context, st ports.ThreadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves.Add(1)
	s.threads[st.ID] = st.Clone()
	return nil
}

func (s *stubThreadStore) put(st ports.ThreadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[st.ID] = st.Clone()
}

func (s *stubThreadStore) state(id string) ports.ThreadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads[id].Clone()
}

var _ ports.ThreadStore = (*stubThreadStore)(nil)

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: fixedTime}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// seqIDs yields "m-0001", "m-0002", ...
func seqIDs() func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("m-%04d", n.Add(1)), nil
	}
}

// threadWith builds a thread of n alternating user/assistant messages whose
// content is size bytes long.
func threadWith(id string, n, size int) ports.ThreadState {
	clock := newStepClock()
	st := ports.NewThreadState(id, clock.Now())
	for i := range n {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		content := fmt.Sprintf("%03d:", i) + strings.Repeat("x", max(0, size-4))
		st = st.WithMessage(Message{ID: fmt.Sprintf("%s-%03d", id, i), Role: role, Content: content, CreatedAt: clock.Now()})
	}
	return st
}

func testSettings() Settings {
	s := DefaultSettings()
	s.SystemPrompt = "You are a helpful assistant."
	return s
}
