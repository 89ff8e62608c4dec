// Package llm provides chat adapters for the hosted language models used by
// the intent parser and synthesizer. All providers implement the same Chat
// interface so callers never depend on a specific vendor SDK.
package llm

import "context"

// Chat is the provider-neutral chat contract.
//
// Implementations must respect context cancellation and timeouts; the
// scheduler runs intent parsing under a slice of the request budget.
type Chat interface {
	// Complete sends the conversation and returns the model's text reply.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Message is a single turn in a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Standard role constants, aligned with the conventions of the major
// providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// splitSystem separates system messages (concatenated) from the rest of the
// conversation, for providers that take the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
