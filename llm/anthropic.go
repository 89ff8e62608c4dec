package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// Anthropic implements Chat for the Claude Messages API. The system prompt
// travels as a separate parameter, so system messages are extracted from the
// conversation before the call.
type Anthropic struct {
	client    anthropic.Client
	modelName string
	maxTokens int64
}

// NewAnthropic creates an Anthropic chat adapter. An empty modelName selects
// the default model.
func NewAnthropic(apiKey, modelName string) *Anthropic {
	if modelName == "" {
		modelName = anthropicDefaultModel
	}
	return &Anthropic{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
		maxTokens: 2048,
	}
}

// Complete implements Chat.
func (a *Anthropic) Complete(ctx context.Context, messages []Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", errors.New("anthropic: conversation has no user messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelName),
		MaxTokens: a.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
