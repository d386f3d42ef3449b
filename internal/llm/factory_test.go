package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskagent/internal/config"
)

func TestNewCloudProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Cloud.APIKey = "key"

	p, err := NewCloudProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
	assert.True(t, p.Available(context.Background()))

	cfg.LLM.Cloud.Provider = "gemini"
	cfg.LLM.Cloud.Model = ""
	cfg.LLM.Cloud.BaseURL = ""
	p, err = NewCloudProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	cfg.LLM.Cloud.Provider = "watson"
	_, err = NewCloudProvider(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported cloud provider")
}

func TestNewCloudProviderWithoutKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Cloud.APIKey = ""

	p, err := NewCloudProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, p.Available(context.Background()))
}

func TestNewLocalProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Local.Model = "qwen2.5"

	p := NewLocalProvider(cfg)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "qwen2.5", p.(*OllamaProvider).Model())
}
