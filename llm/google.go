package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const googleDefaultModel = "gemini-2.5-flash"

// Google implements Chat for the Gemini API. The client is created per call
// because the SDK ties its lifetime to a context.
type Google struct {
	apiKey    string
	modelName string
}

// NewGoogle creates a Gemini chat adapter. An empty modelName selects the
// default model.
func NewGoogle(apiKey, modelName string) *Google {
	if modelName == "" {
		modelName = googleDefaultModel
	}
	return &Google{apiKey: apiKey, modelName: modelName}
}

// Complete implements Chat.
func (g *Google) Complete(ctx context.Context, messages []Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if g.apiKey == "" {
		return "", errors.New("google chat: API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("google chat: create client: %w", err)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(g.modelName)

	system, rest := splitSystem(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	parts := make([]genai.Part, 0, len(rest))
	for _, m := range rest {
		parts = append(parts, genai.Text(m.Content))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("google chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("google chat: response has no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
