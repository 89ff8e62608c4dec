package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiDefaultModel = "gpt-4o-mini"

// OpenAI implements Chat for the OpenAI chat completions API.
type OpenAI struct {
	client    openai.Client
	modelName string
}

// NewOpenAI creates an OpenAI chat adapter. An empty modelName selects the
// default model.
func NewOpenAI(apiKey, modelName string) *OpenAI {
	if modelName == "" {
		modelName = openaiDefaultModel
	}
	return &OpenAI{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		modelName: modelName,
	}
}

// Complete implements Chat.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.modelName),
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
