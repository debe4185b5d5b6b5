package llm

import (
	"context"
	"fmt"

	"nutrition-planner/internal/config"
	"nutrition-planner/internal/shared"
)

// FinishReason is the normalised reason a backend stopped generating.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// Request is a single system/user prompt pair sent to a model.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content      string
	FinishReason FinishReason
	Usage        shared.TokenUsage
}

// Truncated reports whether the backend stopped because of the output limit.
func (r ContentResponse) Truncated() bool {
	return r.FinishReason == FinishLength
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, req Request) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// Client is a TextGenerator that owns resources.
type Client interface {
	TextGenerator
	Closer
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	apiKey := cfg.APIKey()
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(apiKey, cfg.LLMModel), nil
	case config.ProviderGroq:
		return NewGroqClient(apiKey, cfg.LLMModel), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, apiKey, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
}
