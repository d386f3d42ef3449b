package llm

import (
	"context"
	"fmt"

	"deskagent/internal/config"
)

// NewCloudProvider builds the configured cloud provider. A missing API key
// is not an error: the provider then reports itself unavailable.
func NewCloudProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	cloud := cfg.LLM.Cloud
	switch cloud.Provider {
	case "", "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     cloud.APIKey,
			BaseURL:    cloud.BaseURL,
			Model:      cloud.Model,
			Timeout:    cfg.GetCloudTimeout(),
			MaxTokens:  cloud.MaxTokens,
			MaxRetries: cloud.MaxRetries,
		}), nil
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:     cloud.APIKey,
			BaseURL:    cloud.BaseURL,
			Model:      cloud.Model,
			Timeout:    cfg.GetCloudTimeout(),
			MaxTokens:  cloud.MaxTokens,
			MaxRetries: cloud.MaxRetries,
		})
	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s (valid: %v)", cloud.Provider, config.ValidCloudProviders)
	}
}

// NewLocalProvider builds the Ollama provider.
func NewLocalProvider(cfg *config.Config) Provider {
	return NewOllamaProvider(OllamaConfig{
		BaseURL: cfg.LLM.Local.BaseURL,
		Model:   cfg.LLM.Local.Model,
		Timeout: cfg.GetLocalTimeout(),
	})
}
