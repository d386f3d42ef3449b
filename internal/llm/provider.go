// Package llm talks to the language models that drive the agent loop: a
// cloud tool-calling model (Anthropic Messages or Gemini) and a local
// Ollama model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"deskagent/internal/types"
)

// Provider is one model backend.
type Provider interface {
	// Name identifies the backend in logs and status lines.
	Name() string
	// Available reports whether Generate can be expected to work. It must
	// be cheap enough to call once per turn.
	Available(ctx context.Context) bool
	// Generate runs one model call. Cancelling ctx aborts the underlying
	// network request.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

var (
	// ErrNotConfigured is returned when a provider lacks an API key or model.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrEmptyResponse is returned when the model sends nothing usable.
	ErrEmptyResponse = errors.New("empty response from model")
)

// APIError is a non-2xx answer from a provider's HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, body)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType is the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one piece of a message. Which fields are set depends on
// Type: Text for text, ID/Name/Input for tool_use, and
// ToolUseID/Content/IsError for tool_result.
type ContentBlock struct {
	Type BlockType

	Text string

	ID    string
	Name  string
	Input types.Args

	ToolUseID string
	Content   string
	IsError   bool
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds the answer to a tool_use block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one turn of the conversation history.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// UserText builds a user message holding a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// StopReason says why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopUnknown      StopReason = "unknown"
)

// ParseStopReason maps an Anthropic-style stop reason onto StopReason.
func ParseStopReason(s string) StopReason {
	switch StopReason(s) {
	case StopEndTurn, StopToolUse, StopMaxTokens, StopStopSequence:
		return StopReason(s)
	}
	return StopUnknown
}

// Request is one model call.
type Request struct {
	System    string
	Messages  []Message
	Tools     []types.ToolSchema
	MaxTokens int
	// JSON asks for a single JSON object as the reply. Only the local
	// provider honours it.
	JSON bool
}

// Response is a model's reply. Content holds the raw blocks so they can be
// replayed verbatim as the next assistant message.
type Response struct {
	Content    []ContentBlock
	StopReason StopReason
	Model      string
}

// Text concatenates the text blocks.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ToolCalls returns the tool_use blocks as calls.
func (r *Response) ToolCalls() []types.ToolCall {
	var calls []types.ToolCall
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			calls = append(calls, types.ToolCall{ID: b.ID, ToolID: b.Name, Arguments: b.Input})
		}
	}
	return calls
}

// AssistantMessage returns the response as a history entry.
func (r *Response) AssistantMessage() Message {
	return Message{Role: RoleAssistant, Content: append([]ContentBlock(nil), r.Content...)}
}

// toolNames maps tool_use ids to tool names across a history. Backends
// that answer tool calls by name rather than id need it.
func toolNames(messages []Message) map[string]string {
	names := make(map[string]string)
	for _, m := range messages {
		for _, b := range m.Content {
			if b.Type == BlockToolUse {
				names[b.ID] = b.Name
			}
		}
	}
	return names
}
