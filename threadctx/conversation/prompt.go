package conversation

import (
	"strings"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

const summarizeInstruction = `You maintain the running summary of a long conversation.
Merge the existing summary with the new messages into one concise, factual, bullet-style summary.
Preserve named entities, decisions, constraints, open questions and stated user preferences.
Reply with the bullet list only.`

// normalize trims whitespace and unifies newlines to keep prompts stable.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// renderHeader joins the system prompt and the running summary into the
// leading system message.
func renderHeader(systemPrompt, summary, placeholder string) string {
	summary = normalize(summary)
	if summary == "" {
		summary = placeholder
	}
	var b strings.Builder
	if sp := normalize(systemPrompt); sp != "" {
		b.WriteString(sp)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation summary so far:\n")
	b.WriteString(summary)
	return b.String()
}

// renderTranscript formats messages one per line as "ROLE: content".
func renderTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString(": ")
		b.WriteString(normalize(m.Content))
	}
	return b.String()
}

// buildSummaryPrompt asks the provider to fold chunk into the existing summary.
func buildSummaryPrompt(threadID, summary, placeholder string, chunk []Message) ports.PromptInput {
	existing := normalize(summary)
	if existing == "" {
		existing = placeholder
	}
	user := "Existing summary:\n" + existing + "\n\nMessages to fold in:\n" + renderTranscript(chunk)
	return ports.PromptInput{
		System:   summarizeInstruction,
		Messages: []ports.PromptMessage{{Role: string(RoleUser), Content: user}},
		Meta:     map[string]string{"thread_id": threadID, "purpose": "summarize"},
	}
}
