package llm

import (
	"context"
	"fmt"

	"nutrition-planner/internal/shared"

	openai "github.com/sashabaranov/go-openai"
)

// openAIClient talks to any OpenAI-compatible chat completions API.
type openAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey, model string) Client {
	return newOpenAICompatibleClient(openai.DefaultConfig(apiKey), model)
}

// NewOpenAICompatibleClient creates a client for an OpenAI-compatible API at baseURL.
func NewOpenAICompatibleClient(apiKey, baseURL, model string) Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return newOpenAICompatibleClient(cfg, model)
}

func newOpenAICompatibleClient(cfg openai.ClientConfig, model string) Client {
	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// GenerateContent sends the prompt pair as a JSON-mode chat completion.
func (c *openAIClient) GenerateContent(ctx context.Context, req Request) (ContentResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create chat completion: %w", err)
	}

	usage := shared.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Model:            resp.Model,
	}
	if usage.Model == "" {
		usage.Model = c.model
	}

	if len(resp.Choices) == 0 {
		return ContentResponse{Usage: usage, FinishReason: FinishOther}, nil
	}

	choice := resp.Choices[0]
	return ContentResponse{
		Content:      choice.Message.Content,
		FinishReason: openAIFinishReason(choice.FinishReason),
		Usage:        usage,
	}, nil
}

// Close is a no-op; the underlying HTTP client holds no resources of its own.
func (c *openAIClient) Close() error {
	return nil
}

func openAIFinishReason(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	default:
		return FinishOther
	}
}
