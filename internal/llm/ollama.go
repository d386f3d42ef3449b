package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskagent/internal/logging"
	"deskagent/internal/types"
)

const (
	defaultOllamaURL = "http://localhost:11434"

	// availabilityTTL is how long an availability probe result is reused.
	availabilityTTL = 30 * time.Second
)

// OllamaConfig holds configuration for the local provider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the default client; tests use it.
	HTTPClient *http.Client
}

// OllamaProvider calls a local Ollama server's chat API.
type OllamaProvider struct {
	endpoint string
	model    string
	client   *http.Client

	mu        sync.Mutex
	checkedAt time.Time
	available bool
	now       func() time.Time
}

// NewOllamaProvider creates a local provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if !strings.Contains(cfg.BaseURL, "://") {
		cfg.BaseURL = "http://" + cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OllamaProvider{
		endpoint: strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		client:   client,
		now:      time.Now,
	}
}

// Name returns "ollama".
func (p *OllamaProvider) Name() string { return "ollama" }

// Model returns the configured model.
func (p *OllamaProvider) Model() string { return p.model }

// Available probes GET /api/tags. The result is cached for 30 seconds.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.checkedAt.IsZero() && p.now().Sub(p.checkedAt) < availabilityTTL {
		return p.available
	}
	p.available = p.probe(ctx)
	p.checkedAt = p.now()
	logging.APIDebug("[Ollama] availability at %s: %v", p.endpoint, p.available)
	return p.available
}

func (p *OllamaProvider) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Generate sends one non-streaming chat request. Tool calls get generated
// ids because Ollama does not assign any.
func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.markUnavailable()
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(data)}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}

	out := &Response{Model: result.Model}
	if text := strings.TrimSpace(result.Message.Content); text != "" {
		out.Content = append(out.Content, TextBlock(text))
	}
	for _, call := range result.Message.ToolCalls {
		input, err := types.ParseArgs(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %s has malformed arguments: %w", call.Function.Name, err)
		}
		out.Content = append(out.Content, ContentBlock{
			Type:  BlockToolUse,
			ID:    "toolu_" + uuid.NewString(),
			Name:  call.Function.Name,
			Input: input,
		})
	}

	switch {
	case len(result.Message.ToolCalls) > 0:
		out.StopReason = StopToolUse
	case result.DoneReason == "length":
		out.StopReason = StopMaxTokens
	case result.DoneReason == "stop" || result.DoneReason == "":
		out.StopReason = StopEndTurn
	default:
		out.StopReason = StopUnknown
	}

	logging.API("[Ollama] Generate: completed in %v stop_reason=%s blocks=%d", time.Since(startTime), out.StopReason, len(out.Content))
	return out, nil
}

func (p *OllamaProvider) markUnavailable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = false
	p.checkedAt = p.now()
}

func (p *OllamaProvider) buildRequest(req *Request) ollamaChatRequest {
	out := ollamaChatRequest{Model: p.model, Stream: false}
	if req.JSON {
		out.Format = "json"
	}
	if req.MaxTokens > 0 {
		out.Options = map[string]any{"num_predict": req.MaxTokens}
	}
	if req.System != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.System})
	}

	names := toolNames(req.Messages)
	for _, m := range req.Messages {
		msg := ollamaMessage{Role: string(m.Role)}
		var text []string
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				text = append(text, b.Text)
			case BlockToolUse:
				input := b.Input
				if input == nil {
					input = types.Args{}
				}
				args, _ := json.Marshal(input)
				msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{Function: ollamaFunctionCall{Name: b.Name, Arguments: args}})
			case BlockToolResult:
				content := b.Content
				if b.IsError {
					content = "Error: " + content
				}
				out.Messages = append(out.Messages, ollamaMessage{Role: "tool", Content: content, ToolName: names[b.ToolUseID]})
			}
		}
		if len(text) > 0 || len(msg.ToolCalls) > 0 {
			msg.Content = strings.Join(text, "\n")
			out.Messages = append(out.Messages, msg)
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}
	return out
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error,omitempty"`
}

var _ Provider = (*OllamaProvider)(nil)
