package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// LangChainProvider adapts any langchaingo chat model to ports.Provider.
type LangChainProvider struct {
	model llms.Model
}

func NewLangChainProvider(model llms.Model) *LangChainProvider {
	return &LangChainProvider{model: model}
}

// NewOpenAIProvider builds a provider for an OpenAI-compatible endpoint.
// An empty baseURL uses the OpenAI default.
func NewOpenAIProvider(baseURL, model, apiKey string) (*LangChainProvider, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return NewLangChainProvider(llm), nil
}

func (p *LangChainProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	msgs := make([]llms.MessageContent, 0, len(in.Messages)+1)
	if in.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, in.System))
	}
	for _, m := range in.Messages {
		msgs = append(msgs, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	var callOpts []llms.CallOption
	if opts.MaxNewTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxNewTokens))
	}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(float64(opts.Temperature)))
	}
	if len(opts.Stop) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(opts.Stop))
	}

	resp, err := p.model.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return ports.Completion{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ports.Completion{}, errors.New("model returned no choices")
	}

	choice := resp.Choices[0]
	return ports.Completion{Text: choice.Content, Usage: usageFrom(choice.GenerationInfo)}, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case string(ports.RoleSystem):
		return llms.ChatMessageTypeSystem
	case string(ports.RoleAssistant):
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFrom reads the token counters some backends put in GenerationInfo.
func usageFrom(info map[string]any) *ports.Usage {
	prompt, okP := intField(info, "PromptTokens")
	completion, okC := intField(info, "CompletionTokens")
	if !okP && !okC {
		return nil
	}
	total, ok := intField(info, "TotalTokens")
	if !ok {
		total = prompt + completion
	}
	return &ports.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func intField(info map[string]any, key string) (int, bool) {
	switch v := info[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

var _ ports.Provider = (*LangChainProvider)(nil)
