package conversation

import (
	"time"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

type (
	Role        = ports.Role
	Message     = ports.Message
	ThreadState = ports.ThreadState
)

const (
	RoleSystem    = ports.RoleSystem
	RoleUser      = ports.RoleUser
	RoleAssistant = ports.RoleAssistant
)

// ThreadView is a caller-owned snapshot of a thread.
type ThreadView struct {
	ID          string
	Summary     string
	Messages    []Message
	LastUpdated time.Time
}

func newThreadView(state ThreadState) ThreadView {
	c := state.Clone()
	return ThreadView{
		ID:          c.ID,
		Summary:     c.Summary,
		Messages:    c.Messages,
		LastUpdated: c.LastUpdated,
	}
}

// Settings holds the budgets and policies a Manager runs with.
type Settings struct {
	MaxPromptTokens          int
	CompressAfterTokens      int
	KeepRecent               int
	SystemPrompt             string
	SummaryPlaceholder       string
	MessageOverheadTokens    int
	MinChunk                 int
	ChunkFraction            float64
	CompletionTimeout        time.Duration
	MaxConcurrentCompactions int
	Reply                    ports.Options // sampling for assistant replies
	Summarize                ports.Options // sampling for summarization calls
	Estimator                Estimator     // nil selects CharEstimator
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxPromptTokens:          6000,
		CompressAfterTokens:      4000,
		KeepRecent:               8,
		SystemPrompt:             "You are a helpful assistant.",
		SummaryPlaceholder:       "(none yet)",
		MessageOverheadTokens:    4,
		MinChunk:                 6,
		ChunkFraction:            0.25,
		CompletionTimeout:        60 * time.Second,
		MaxConcurrentCompactions: 4,
		Reply:                    ports.Options{MaxNewTokens: 1024, Temperature: 0.7},
		Summarize:                ports.Options{MaxNewTokens: 512, Temperature: 0.2},
	}
}

func (s Settings) validate() error {
	switch {
	case s.MaxPromptTokens <= 0:
		return fmtInvalid("max prompt tokens must be positive, got %d", s.MaxPromptTokens)
	case s.CompressAfterTokens <= 0 || s.CompressAfterTokens >= s.MaxPromptTokens:
		return fmtInvalid("compress threshold %d must be in (0, %d)", s.CompressAfterTokens, s.MaxPromptTokens)
	case s.KeepRecent < 1:
		return fmtInvalid("keep recent must be at least 1, got %d", s.KeepRecent)
	case s.MessageOverheadTokens < 0:
		return fmtInvalid("message overhead must not be negative, got %d", s.MessageOverheadTokens)
	case s.MinChunk < 1:
		return fmtInvalid("min chunk must be at least 1, got %d", s.MinChunk)
	case s.ChunkFraction <= 0 || s.ChunkFraction > 1:
		return fmtInvalid("chunk fraction must be in (0, 1], got %v", s.ChunkFraction)
	case s.CompletionTimeout < 0:
		return fmtInvalid("completion timeout must not be negative, got %s", s.CompletionTimeout)
	}
	return nil
}
