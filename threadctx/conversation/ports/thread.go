package convports

import (
	"slices"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of dialogue. Messages are never edited after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadState is the persisted unit of conversation state.
//
// It is treated as an immutable value: WithMessage and Compacted return new
// states backed by freshly allocated slices and never touch the receiver.
type ThreadState struct {
	ID          string    `json:"id"`
	Messages    []Message `json:"messages"`
	Summary     string    `json:"summary"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewThreadState returns an empty state for id.
func NewThreadState(id string, now time.Time) ThreadState {
	return ThreadState{ID: id, Messages: []Message{}, LastUpdated: now}
}

// Clone returns a deep copy of s.
func (s ThreadState) Clone() ThreadState {
	out := s
	out.Messages = slices.Clone(s.Messages)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	return out
}

// WithMessage returns a copy of s with m appended. m.CreatedAt is raised to
// the previous message's timestamp if it would otherwise go backwards.
func (s ThreadState) WithMessage(m Message) ThreadState {
	if n := len(s.Messages); n > 0 {
		if last := s.Messages[n-1].CreatedAt; m.CreatedAt.Before(last) {
			m.CreatedAt = last
		}
	}

	out := s
	out.Messages = make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(out.Messages, s.Messages)
	out.Messages = append(out.Messages, m)
	if m.CreatedAt.After(out.LastUpdated) {
		out.LastUpdated = m.CreatedAt
	}
	return out
}

// Compacted returns a copy of s with the oldest n messages removed and the
// summary replaced. n is clamped to [0, len(Messages)].
func (s ThreadState) Compacted(n int, summary string, now time.Time) ThreadState {
	n = max(0, min(n, len(s.Messages)))

	out := s
	out.Messages = slices.Clone(s.Messages[n:])
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	out.Summary = summary
	if now.After(out.LastUpdated) {
		out.LastUpdated = now
	}
	return out
}
