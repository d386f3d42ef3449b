package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"deskagent/internal/logging"
	"deskagent/internal/types"
)

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxTokens  int
	MaxRetries int // zero means 3, negative disables retries
	Backoff    time.Duration
	HTTPClient *http.Client
}

// GeminiProvider calls Gemini through the genai SDK with function calling.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
	retry     retryPolicy
}

// NewGeminiProvider creates a Gemini provider. Without an API key the
// provider is returned unconfigured and reports itself unavailable.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
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
	p := &GeminiProvider{
		model:     geminiModelName(cfg.Model),
		maxTokens: cfg.MaxTokens,
		retry:     retryPolicy{maxRetries: cfg.MaxRetries, backoff: cfg.Backoff},
	}
	if cfg.APIKey == "" {
		return p, nil
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns "gemini".
func (p *GeminiProvider) Name() string { return "gemini" }

// Model returns the configured model.
func (p *GeminiProvider) Model() string { return p.model }

// Available reports whether the provider was configured with an API key.
func (p *GeminiProvider) Available(ctx context.Context) bool {
	return p.client != nil
}

// Generate runs one GenerateContent call, retrying 429 and 5xx answers.
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, fmt.Errorf("gemini: API key not configured: %w", ErrNotConfigured)
	}

	startTime := time.Now()
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(p.maxTokens)}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	logging.APIDebug("[Gemini] Generate: model=%s messages=%d tools=%d", p.model, len(req.Messages), len(req.Tools))

	var result *genai.GenerateContentResponse
	err = p.retry.do(ctx, func() error {
		var callErr error
		result, callErr = p.client.Models.GenerateContent(ctx, p.model, contents, config)
		var apiErr genai.APIError
		if errors.As(callErr, &apiErr) {
			return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
		}
		return callErr
	})
	if err != nil {
		logging.APIWarn("[Gemini] Generate failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	candidate := result.Candidates[0]
	out := &Response{Model: p.model}
	if result.ModelVersion != "" {
		out.Model = result.ModelVersion
	}
	hasCalls := false
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			hasCalls = true
			input, err := types.ArgsFromMap(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("function call %s has malformed arguments: %w", part.FunctionCall.Name, err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			out.Content = append(out.Content, ContentBlock{Type: BlockToolUse, ID: id, Name: part.FunctionCall.Name, Input: input})
		case part.Text != "" && !part.Thought:
			out.Content = append(out.Content, TextBlock(part.Text))
		}
	}

	switch {
	case hasCalls:
		out.StopReason = StopToolUse
	case candidate.FinishReason == genai.FinishReasonStop:
		out.StopReason = StopEndTurn
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopUnknown
	}

	logging.API("[Gemini] Generate: completed in %v stop_reason=%s blocks=%d", time.Since(startTime), out.StopReason, len(out.Content))
	return out, nil
}

// toGeminiContents converts the history. Tool results are answered by
// function name, recovered from the matching tool_use block.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	names := toolNames(messages)
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				parts = append(parts, genai.NewPartFromText(b.Text))
			case BlockToolUse:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: b.ID, Name: b.Name, Args: b.Input.ToMap()}})
			case BlockToolResult:
				name, ok := names[b.ToolUseID]
				if !ok {
					return nil, fmt.Errorf("tool result %s does not answer any tool call", b.ToolUseID)
				}
				key := "output"
				if b.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     name,
					Response: map[string]any{key: b.Content},
				}})
			}
		}
		if len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
		}
	}
	if len(contents) == 0 {
		return nil, errors.New("no messages to send")
	}
	return contents, nil
}

// geminiModelName strips a "models/" prefix some configs carry.
func geminiModelName(model string) string {
	return strings.TrimPrefix(model, "models/")
}

var _ Provider = (*GeminiProvider)(nil)
