package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppName names the per-user data directory.
const AppName = "deskagent"

// Config holds all deskagent configuration.
type Config struct {
	// DataDir holds config.yaml, the plugin server list, the store and logs.
	DataDir string `yaml:"data_dir"`

	// Agent loop behaviour
	Assistant AssistantConfig `yaml:"assistant"`

	// Model backends
	LLM LLMConfig `yaml:"llm"`

	// Plugin servers
	MCP MCPConfig `yaml:"mcp"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// keyFromEnv is set when the cloud API key came from the environment;
	// Save never writes such a key back to disk.
	keyFromEnv bool
}

// AssistantConfig configures the orchestrator and policy engine.
type AssistantConfig struct {
	AutonomyLevel     string `yaml:"autonomy_level"` // confirm_all, auto_execute, fully_auto
	RoutingMode       string `yaml:"routing_mode"`   // auto, always_local, always_cloud
	MaxRounds         int    `yaml:"max_rounds"`
	TurnTimeout       string `yaml:"turn_timeout"`
	PluginConnectWait string `yaml:"plugin_connect_wait"`
	SystemPrompt      string `yaml:"system_prompt"`
}

// MCPConfig configures the plugin server manager.
type MCPConfig struct {
	ServersFile      string `yaml:"servers_file"`
	StorePath        string `yaml:"store_path"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	RequestTimeout   string `yaml:"request_timeout"`
	WatchServersFile bool   `yaml:"watch_servers_file"`
}

// Autonomy levels accepted in assistant.autonomy_level.
var ValidAutonomyLevels = []string{"confirm_all", "auto_execute", "fully_auto"}

// Routing modes accepted in assistant.routing_mode.
var ValidRoutingModes = []string{"auto", "always_local", "always_cloud"}

// DefaultDataDir returns <user config dir>/deskagent, falling back to
// ~/.deskagent when the platform has no config dir.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "."+AppName)
	}
	return "." + AppName
}

// DefaultConfigPath returns the default location of config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),

		Assistant: AssistantConfig{
			AutonomyLevel:     "auto_execute",
			RoutingMode:       "auto",
			MaxRounds:         10,
			TurnTimeout:       "90s",
			PluginConnectWait: "15s",
		},

		LLM: LLMConfig{
			Cloud: CloudLLMConfig{
				Provider:   "anthropic",
				Model:      defaultAnthropicModel,
				BaseURL:    defaultAnthropicBaseURL,
				Timeout:    "60s",
				MaxTokens:  4096,
				MaxRetries: 3,
			},
			Local: LocalLLMConfig{
				BaseURL: "http://localhost:11434",
				Model:   "llama3.2",
				Timeout: "60s",
			},
		},

		MCP: MCPConfig{
			HandshakeTimeout: "30s",
			RequestTimeout:   "60s",
			WatchServersFile: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		cfg.LLM.Cloud.dropForeignDefaults()
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	if c.keyFromEnv {
		out.LLM.Cloud.APIKey = ""
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// envOverrides is filled by envconfig from DESKAGENT_* variables. envconfig
// falls back to the unprefixed tag name, which is how the provider variables
// ANTHROPIC_API_KEY, GEMINI_API_KEY and OLLAMA_HOST are picked up.
type envOverrides struct {
	DataDir         string `envconfig:"DATA_DIR"`
	AutonomyLevel   string `envconfig:"AUTONOMY_LEVEL"`
	RoutingMode     string `envconfig:"ROUTING_MODE"`
	MaxRounds       int    `envconfig:"MAX_ROUNDS"`
	TurnTimeout     string `envconfig:"TURN_TIMEOUT"`
	CloudProvider   string `envconfig:"CLOUD_PROVIDER"`
	CloudModel      string `envconfig:"CLOUD_MODEL"`
	LocalModel      string `envconfig:"LOCAL_MODEL"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	OllamaHost      string `envconfig:"OLLAMA_HOST"`
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process(AppName, &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	if env.AutonomyLevel != "" {
		c.Assistant.AutonomyLevel = env.AutonomyLevel
	}
	if env.RoutingMode != "" {
		c.Assistant.RoutingMode = env.RoutingMode
	}
	if env.MaxRounds > 0 {
		c.Assistant.MaxRounds = env.MaxRounds
	}
	if env.TurnTimeout != "" {
		c.Assistant.TurnTimeout = env.TurnTimeout
	}
	if env.CloudProvider != "" {
		c.LLM.Cloud.Provider = env.CloudProvider
	}
	if env.CloudModel != "" {
		c.LLM.Cloud.Model = env.CloudModel
	}
	if env.LocalModel != "" {
		c.LLM.Local.Model = env.LocalModel
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.OllamaHost != "" {
		c.LLM.Local.BaseURL = env.OllamaHost
	}

	// The key matching the configured provider wins; otherwise the first
	// available key selects the provider.
	switch {
	case c.LLM.Cloud.Provider == "gemini" && env.GeminiAPIKey != "":
		c.LLM.Cloud.APIKey = env.GeminiAPIKey
		c.keyFromEnv = true
	case env.AnthropicAPIKey != "":
		if c.LLM.Cloud.Provider != "anthropic" {
			c.LLM.Cloud.Provider = "anthropic"
			c.LLM.Cloud.Model = ""
			c.LLM.Cloud.BaseURL = ""
		}
		c.LLM.Cloud.APIKey = env.AnthropicAPIKey
		c.keyFromEnv = true
	case env.GeminiAPIKey != "":
		if c.LLM.Cloud.Provider != "gemini" {
			c.LLM.Cloud.Provider = "gemini"
			c.LLM.Cloud.Model = ""
			c.LLM.Cloud.BaseURL = ""
		}
		c.LLM.Cloud.APIKey = env.GeminiAPIKey
		c.keyFromEnv = true
	}
	return nil
}

// Validate checks enumerated settings. A missing cloud key is not an error:
// the assistant then runs local-only.
func (c *Config) Validate() error {
	if !slices.Contains(ValidAutonomyLevels, c.Assistant.AutonomyLevel) {
		return fmt.Errorf("invalid autonomy level: %s (valid: %v)", c.Assistant.AutonomyLevel, ValidAutonomyLevels)
	}
	if !slices.Contains(ValidRoutingModes, c.Assistant.RoutingMode) {
		return fmt.Errorf("invalid routing mode: %s (valid: %v)", c.Assistant.RoutingMode, ValidRoutingModes)
	}
	if !slices.Contains(ValidCloudProviders, c.LLM.Cloud.Provider) {
		return fmt.Errorf("invalid cloud provider: %s (valid: %v)", c.LLM.Cloud.Provider, ValidCloudProviders)
	}
	if c.Assistant.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1, got %d", c.Assistant.MaxRounds)
	}
	return nil
}

// GetTurnTimeout returns the agent-loop deadline as a duration.
func (c *Config) GetTurnTimeout() time.Duration {
	return parseDuration(c.Assistant.TurnTimeout, 90*time.Second)
}

// GetPluginConnectWait bounds how long a turn waits for plugins to connect.
func (c *Config) GetPluginConnectWait() time.Duration {
	return parseDuration(c.Assistant.PluginConnectWait, 15*time.Second)
}

// GetHandshakeTimeout returns the MCP initialize timeout as a duration.
func (c *Config) GetHandshakeTimeout() time.Duration {
	return parseDuration(c.MCP.HandshakeTimeout, 30*time.Second)
}

// GetRequestTimeout returns the per-request MCP timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.MCP.RequestTimeout, 60*time.Second)
}

// GetCloudTimeout returns the cloud provider HTTP timeout as a duration.
func (c *Config) GetCloudTimeout() time.Duration {
	return parseDuration(c.LLM.Cloud.Timeout, 60*time.Second)
}

// GetLocalTimeout returns the local provider HTTP timeout as a duration.
func (c *Config) GetLocalTimeout() time.Duration {
	return parseDuration(c.LLM.Local.Timeout, 60*time.Second)
}

// ServersFilePath returns the plugin server list location.
func (c *Config) ServersFilePath() string {
	return c.inDataDir(c.MCP.ServersFile, "mcp_servers.json")
}

// StorePath returns the SQLite status/usage database location.
func (c *Config) StorePath() string {
	return c.inDataDir(c.MCP.StorePath, "deskagent.db")
}

// AuditPath returns the audit log location.
func (c *Config) AuditPath() string {
	return c.inDataDir(c.Logging.AuditFile, filepath.Join("logs", "audit.log"))
}

func (c *Config) inDataDir(configured, fallback string) string {
	if configured == "" {
		configured = fallback
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(c.DataDir, configured)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
