package convports

import (
	"context"
)

// PromptMessage represents a single chat message submitted to the provider.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // header: system prompt plus rendered running summary
	Messages []PromptMessage   // ordered chat history (already windowed)
	Meta     map[string]string // lightweight metadata for tracing ("thread_id", "purpose")
}

// Options controls sampling and limits for a single call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	Stop         []string
}

// Usage captures token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Usage *Usage // optional usage information
}

// Provider is the completion service. Implementations may be slow and may
// fail; callers bound them with a context deadline and never retry.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
