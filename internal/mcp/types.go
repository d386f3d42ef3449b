// Package mcp provides the Model Context Protocol client side: byte
// transports to plugin processes and HTTP endpoints, a JSON-RPC client that
// performs the handshake, discovery and tool calls, and a manager that owns
// configured plugin servers and registers their tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// ServerStatus represents the connection status of an MCP server.
type ServerStatus string

const (
	ServerStatusDisconnected ServerStatus = "disconnected"
	ServerStatusConnecting   ServerStatus = "connecting"
	ServerStatusConnected    ServerStatus = "connected"
	ServerStatusError        ServerStatus = "error"
)

// Protocol represents the MCP transport protocol.
type Protocol string

const (
	ProtocolStdio Protocol = "stdio"
	ProtocolHTTP  Protocol = "http"
)

// ServerConfig is one persisted plugin server record. EnvVarNames lists
// secrets resolved at connect time; their values are never stored here.
type ServerConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Transport   Protocol `json:"transport"`
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	URL         string   `json:"url,omitempty"`
	EnvVarNames []string `json:"env_var_names,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// Validate checks the fields required by the configured transport.
func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server config: id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("server config %s: name is required", c.ID)
	}
	switch c.Transport {
	case ProtocolStdio:
		if c.Command == "" {
			return fmt.Errorf("server config %s: stdio transport requires a command", c.ID)
		}
	case ProtocolHTTP:
		if c.URL == "" {
			return fmt.Errorf("server config %s: http transport requires a url", c.ID)
		}
	default:
		return fmt.Errorf("server config %s: unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

// ConnectionStatus is the manager's view of one server.
type ConnectionStatus struct {
	State     ServerStatus `json:"state"`
	ToolCount int          `json:"tool_count,omitempty"`
	Message   string       `json:"message,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (s ConnectionStatus) String() string {
	switch s.State {
	case ServerStatusConnected:
		return fmt.Sprintf("connected (%d tools)", s.ToolCount)
	case ServerStatusError:
		return "error: " + s.Message
	default:
		return string(s.State)
	}
}

// MCPToolSchema represents the raw tool schema from an MCP server.
type MCPToolSchema struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	InputSchema json.RawMessage         `json:"inputSchema"`
	Annotations mcpproto.ToolAnnotation `json:"annotations,omitempty"`
}

// MCPCapabilities is the subset of server capabilities the client acts on.
type MCPCapabilities struct {
	Tools            bool `json:"tools"`
	ToolsListChanged bool `json:"tools_list_changed"`
	Resources        bool `json:"resources"`
	Prompts          bool `json:"prompts"`
	Logging          bool `json:"logging"`
}

func capabilitiesFrom(sc mcpproto.ServerCapabilities) MCPCapabilities {
	caps := MCPCapabilities{
		Tools:     sc.Tools != nil,
		Resources: sc.Resources != nil,
		Prompts:   sc.Prompts != nil,
		Logging:   sc.Logging != nil,
	}
	if sc.Tools != nil {
		caps.ToolsListChanged = sc.Tools.ListChanged
	}
	return caps
}

// ServerInfo is the server's declared identity.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	Instructions    string `json:"instructions,omitempty"`
}

// ContentType is the kind of a tool result block.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentResource ContentType = "resource"
)

// ContentBlock is one typed block of a tool result.
type ContentBlock struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"` // base64 image payload
	MIMEType string      `json:"mime_type,omitempty"`
	URI      string      `json:"uri,omitempty"`
}

// MCPCallResult represents the result of calling an MCP tool.
type MCPCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error"`
}

// Text concatenates the result for a model: text blocks verbatim, images
// and resources as short placeholders unless a resource carries text.
func (r *MCPCallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		switch block.Type {
		case ContentText:
			parts = append(parts, block.Text)
		case ContentImage:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes base64]", block.MIMEType, len(block.Data)))
		case ContentResource:
			if block.Text != "" {
				parts = append(parts, block.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource: %s]", block.URI))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Transport moves whole JSON-RPC messages. It knows nothing about the
// protocol on top.
type Transport interface {
	// Start launches the process or prepares the HTTP session.
	Start(ctx context.Context) error

	// Send writes one message.
	Send(ctx context.Context, msg []byte) error

	// Receive blocks until a message arrives, the transport closes
	// (ErrTransportClosed), or ctx is done.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the connection. Safe to call more than once.
	Close() error

	// IsConnected returns current connection status.
	IsConnected() bool
}
