package agent

import (
	"context"
	"fmt"
)

// ToolSchema describes one tool as advertised to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// LLMRequest contains the request parameters for an LLM call
type LLMRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// LLMResponse contains the response from the LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// ProviderConfig holds the credentials and endpoint for a provider.
type ProviderConfig struct {
	Provider string // "openai", "gemini", "anthropic"
	APIKey   string
	BaseURL  string
}

// NewProvider creates an LLM provider from config.
//
// Gemini is served through its OpenAI-compatible endpoint, so it shares the
// OpenAI client with the base URL switched.
func NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "gemini":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = GeminiBaseURL
		}
		return NewOpenAIProvider(cfg.APIKey, baseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
