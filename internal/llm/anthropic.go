package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deskagent/internal/logging"
	"deskagent/internal/types"
)

const (
	anthropicVersion    = "2023-06-01"
	defaultAnthropicURL = "https://api.anthropic.com/v1"
	defaultMaxTokens    = 4096
)

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxTokens  int
	MaxRetries int // zero means 3, negative disables retries
	// Backoff is the first retry delay; later retries double it.
	Backoff time.Duration
	// HTTPClient overrides the default client; tests use it.
	HTTPClient *http.Client
}

// AnthropicProvider calls the Anthropic Messages API with native tool use.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	retry      retryPolicy
}

// NewAnthropicProvider creates an Anthropic provider. Zero config fields
// take defaults.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &AnthropicProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: client,
		retry:      retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.Backoff},
	}
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the configured model.
func (p *AnthropicProvider) Model() string { return p.model }

// Available reports whether an API key is configured.
func (p *AnthropicProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

// Generate sends one Messages request, retrying 429 and 5xx answers.
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key not configured: %w", ErrNotConfigured)
	}

	startTime := time.Now()
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	logging.APIDebug("[Anthropic] Generate: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	var resp anthropicResponse
	err = p.retry.do(ctx, func() error {
		return p.send(ctx, body, &resp)
	})
	if err != nil {
		logging.APIWarn("[Anthropic] Generate failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s", resp.Error.Message)
	}

	out := &Response{StopReason: ParseStopReason(resp.StopReason), Model: resp.Model}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, TextBlock(block.Text))
		case "tool_use":
			input, err := types.ParseArgs(block.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s has malformed input: %w", block.Name, err)
			}
			out.Content = append(out.Content, ContentBlock{Type: BlockToolUse, ID: block.ID, Name: block.Name, Input: input})
		}
	}

	logging.API("[Anthropic] Generate: completed in %v stop_reason=%s blocks=%d",
		time.Since(startTime), out.StopReason, len(out.Content))
	return out, nil
}

func (p *AnthropicProvider) send(ctx context.Context, body []byte, out *anthropicResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logging.APIWarn("[Anthropic] API returned status %d", resp.StatusCode)
		return &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (p *AnthropicProvider) buildRequest(req *Request) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	out := anthropicRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  make([]anthropicMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		blocks := make([]anthropicContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, toAnthropicBlock(b))
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: string(m.Role), Content: blocks})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

func toAnthropicBlock(b ContentBlock) anthropicContentBlock {
	switch b.Type {
	case BlockToolUse:
		input := b.Input
		if input == nil {
			input = types.Args{}
		}
		raw, _ := json.Marshal(input)
		return anthropicContentBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: raw}
	case BlockToolResult:
		return anthropicContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
	default:
		return anthropicContentBlock{Type: "text", Text: b.Text}
	}
}

// =============================================================================
// ANTHROPIC API TYPES
// =============================================================================

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var _ Provider = (*AnthropicProvider)(nil)
