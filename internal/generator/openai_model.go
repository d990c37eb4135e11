package generator

import (
	"context"
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openaiModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIFactory returns a Factory backed by a hosted chat-completion API.
// Useful when no local GPU runner is available.
func NewOpenAIFactory(cfg config.GeneratorConfig) Factory {
	return func(_ context.Context) (Model, error) {
		clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAIBaseURL
		}
		return &openaiModel{
			client: openai.NewClientWithConfig(clientCfg),
			model:  cfg.OpenAIModel,
		}, nil
	}
}

func (m *openaiModel) Generate(ctx context.Context, prompt string, s Sampling) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(s.Temperature),
		TopP:        float32(s.TopP),
		MaxTokens:   s.MaxNewTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	// Hosted APIs return only the completion; the prompt is prepended so the
	// decoded sequence parses the same way as the local runner's output.
	return prompt + resp.Choices[0].Message.Content, nil
}

func (m *openaiModel) Close() error { return nil }
