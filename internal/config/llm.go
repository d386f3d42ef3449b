package config

// LLMConfig configures the two model backends the router chooses between.
type LLMConfig struct {
	Cloud CloudLLMConfig `yaml:"cloud"`
	Local LocalLLMConfig `yaml:"local"`
}

// CloudLLMConfig configures the remote tool-calling model.
type CloudLLMConfig struct {
	Provider   string `yaml:"provider"` // anthropic, gemini
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
}

// LocalLLMConfig configures the Ollama-compatible local model.
type LocalLLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

const (
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
)

// ValidCloudProviders lists all supported cloud providers.
var ValidCloudProviders = []string{"anthropic", "gemini"}

// HasCloudKey reports whether a cloud provider can be used at all.
func (c *LLMConfig) HasCloudKey() bool {
	return c.Cloud.APIKey != ""
}

// dropForeignDefaults clears the Anthropic model and URL that DefaultConfig
// fills in when the YAML switched to another provider without naming them.
func (c *CloudLLMConfig) dropForeignDefaults() {
	if c.Provider == "anthropic" {
		return
	}
	if c.Model == defaultAnthropicModel {
		c.Model = ""
	}
	if c.BaseURL == defaultAnthropicBaseURL {
		c.BaseURL = ""
	}
}
