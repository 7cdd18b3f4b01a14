package convports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestThreadState_WithMessage(t *testing.T) {
	s := NewThreadState("T", t0)
	s1 := s.WithMessage(Message{ID: "a", Role: RoleUser, Content: "hi", CreatedAt: t0.Add(time.Minute)})

	assert.Empty(t, s.Messages, "receiver untouched")
	require.Len(t, s1.Messages, 1)
	assert.Equal(t, t0.Add(time.Minute), s1.LastUpdated)

	// A timestamp that goes backwards is raised to the previous one.
	s2 := s1.WithMessage(Message{ID: "b", Role: RoleAssistant, Content: "yo", CreatedAt: t0})
	assert.Equal(t, t0.Add(time.Minute), s2.Messages[1].CreatedAt)
	assert.Len(t, s1.Messages, 1)

	// Appending to two children of the same parent never aliases.
	c1 := s2.WithMessage(Message{ID: "c1", Role: RoleUser, CreatedAt: t0.Add(2 * time.Minute)})
	c2 := s2.WithMessage(Message{ID: "c2", Role: RoleUser, CreatedAt: t0.Add(2 * time.Minute)})
	assert.Equal(t, "c1", c1.Messages[2].ID)
	assert.Equal(t, "c2", c2.Messages[2].ID)
}

func TestThreadState_Compacted(t *testing.T) {
	s := NewThreadState("T", t0)
	for _, id := range []string{"a", "b", "c", "d"} {
		s = s.WithMessage(Message{ID: id, Role: RoleUser, CreatedAt: t0})
	}

	c := s.Compacted(3, "- abc", t0.Add(time.Hour))
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "d", c.Messages[0].ID)
	assert.Equal(t, "- abc", c.Summary)
	assert.Equal(t, t0.Add(time.Hour), c.LastUpdated)
	assert.Len(t, s.Messages, 4)
	assert.Empty(t, s.Summary)

	all := s.Compacted(99, "- all", t0)
	assert.NotNil(t, all.Messages)
	assert.Empty(t, all.Messages)
	assert.Equal(t, s.LastUpdated, all.LastUpdated, "last updated never moves backwards")

	none := s.Compacted(-1, "- none", t0)
	assert.Len(t, none.Messages, 4)
}
