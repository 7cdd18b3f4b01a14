package conversation

import (
	"slices"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// Budget bounds what the assembler may place in a prompt.
type Budget struct {
	MaxPromptTokens       int
	KeepRecent            int
	MessageOverheadTokens int
}

// Assembly is the context selected for one completion call.
type Assembly struct {
	Header   ports.PromptMessage
	Selected []Message // chronological, contiguous
	Tokens   int       // estimated cost of header plus selected
	// NewestExcluded is set when the latest message did not fit.
	NewestExcluded bool
}

// Messages returns the header followed by the selected messages.
func (a Assembly) Messages() []ports.PromptMessage {
	out := make([]ports.PromptMessage, 0, len(a.Selected)+1)
	out = append(out, a.Header)
	for _, m := range a.Selected {
		out = append(out, ports.PromptMessage{Role: string(m.Role), Content: normalize(m.Content)})
	}
	return out
}

// SelectedIDs returns the ids of the selected messages in order.
func (a Assembly) SelectedIDs() []string {
	ids := make([]string, len(a.Selected))
	for i, m := range a.Selected {
		ids[i] = m.ID
	}
	return ids
}

// PromptInput flattens the assembly for a Provider: the header becomes the
// system text and the selection the chat history.
func (a Assembly) PromptInput(meta map[string]string) ports.PromptInput {
	msgs := a.Messages()
	return ports.PromptInput{
		System:   a.Header.Content,
		Messages: msgs[1:],
		Meta:     meta,
	}
}

// ContextAssembler chooses which history fits the prompt budget.
// It holds no mutable state and is safe for concurrent use.
type ContextAssembler struct {
	budget       Budget
	systemPrompt string
	placeholder  string
	estimate     Estimator
}

func NewContextAssembler(b Budget, systemPrompt, placeholder string, est Estimator) *ContextAssembler {
	if est == nil {
		est = CharEstimator
	}
	if b.KeepRecent < 1 {
		b.KeepRecent = 1
	}
	return &ContextAssembler{budget: b, systemPrompt: systemPrompt, placeholder: placeholder, estimate: est}
}

// MessageCost is the estimated prompt cost of m including role framing.
func (a *ContextAssembler) MessageCost(m Message) int {
	return a.estimate(m.Content) + a.budget.MessageOverheadTokens
}

// TotalCost sums MessageCost over msgs.
func (a *ContextAssembler) TotalCost(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += a.MessageCost(m)
	}
	return total
}

// Header renders the leading system message for summary.
func (a *ContextAssembler) Header(summary string) ports.PromptMessage {
	return ports.PromptMessage{
		Role:    string(RoleSystem),
		Content: renderHeader(a.systemPrompt, summary, a.placeholder),
	}
}

// Assemble selects a contiguous suffix-biased run of messages whose cost,
// together with the header, stays within MaxPromptTokens.
//
// The recent window (last KeepRecent messages) is admitted oldest to newest
// and the walk stops at the first message that does not fit. Leftover
// budget is then spent on older messages, newest first, with the same stop
// rule. If the header alone exceeds the budget only the header is returned.
func (a *ContextAssembler) Assemble(state ThreadState) Assembly {
	header := a.Header(state.Summary)
	headerCost := a.estimate(header.Content) + a.budget.MessageOverheadTokens

	out := Assembly{Header: header, Tokens: headerCost}
	msgs := state.Messages
	remaining := a.budget.MaxPromptTokens - headerCost
	if remaining <= 0 || len(msgs) == 0 {
		out.NewestExcluded = len(msgs) > 0
		return out
	}

	windowStart := max(0, len(msgs)-a.budget.KeepRecent)
	end := windowStart
	for end < len(msgs) {
		c := a.MessageCost(msgs[end])
		if c > remaining {
			break
		}
		remaining -= c
		end++
	}

	start := windowStart
	for start > 0 && remaining > 0 {
		c := a.MessageCost(msgs[start-1])
		if c > remaining {
			break
		}
		remaining -= c
		start--
	}

	out.Selected = slices.Clone(msgs[start:end])
	out.Tokens = a.budget.MaxPromptTokens - remaining
	out.NewestExcluded = end < len(msgs)
	return out
}
