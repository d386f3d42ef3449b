package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"deskagent/internal/logging"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName = "deskagent"

	defaultHandshakeTimeout = 30 * time.Second
	defaultRequestTimeout   = 60 * time.Second

	maxToolPages = 100
)

// ClientVersion is reported in the initialize handshake.
var ClientVersion = "dev"

// NotificationHandler receives server notifications. It runs on the
// goroutine waiting for a response and must not issue requests on the same
// client.
type NotificationHandler func(method string, params json.RawMessage)

// Client is one JSON-RPC session with a plugin server. Requests are
// serialised: at most one is in flight at a time.
type Client struct {
	name      string
	transport Transport

	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	onNotification   NotificationHandler

	// reqMu is held for the whole send/receive exchange of one request.
	reqMu  sync.Mutex
	nextID int64

	mu          sync.RWMutex
	initialized bool
	info        ServerInfo
	caps        MCPCapabilities
	tools       []MCPToolSchema
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds every request other than initialize.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the initialize request.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithNotificationHandler installs a handler for server notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(c *Client) { c.onNotification = h }
}

// NewClient creates a client for the named server over transport.
func NewClient(name string, transport Transport, opts ...Option) *Client {
	c := &Client{
		name:             name,
		transport:        transport,
		handshakeTimeout: defaultHandshakeTimeout,
		requestTimeout:   defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the transport and performs the initialize handshake. The
// transport is closed again if the handshake fails.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		var mcpErr *Error
		if errors.As(err, &mcpErr) || errors.Is(err, context.Canceled) {
			return err
		}
		return newError(KindConnectionFailed, err, "starting transport for %s", c.name)
	}
	if err := c.Initialize(ctx); err != nil {
		_ = c.transport.Close()
		return err
	}
	return nil
}

// Initialize declares the protocol version and client identity, records
// the server's answer and sends the initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	params := mcpproto.InitializeParams{
		ProtocolVersion: mcpproto.LATEST_PROTOCOL_VERSION,
		ClientInfo: mcpproto.Implementation{
			Name:    clientName,
			Version: ClientVersion,
		},
	}

	raw, err := c.request(ctx, string(mcpproto.MethodInitialize), params, c.handshakeTimeout)
	if err != nil {
		return err
	}

	var result mcpproto.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return newError(KindInvalidResponse, err, "initialize result from %s", c.name)
	}
	if result.ProtocolVersion == "" {
		return newError(KindProtocol, nil, "%s did not declare a protocol version", c.name)
	}

	if err := c.notify(ctx, methodInitialized, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.info = ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
		Instructions:    result.Instructions,
	}
	c.caps = capabilitiesFrom(result.Capabilities)
	c.mu.Unlock()

	logging.MCP("initialized %s: server %s %s, protocol %s, tools=%v",
		c.name, result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion, c.caps.Tools)
	return nil
}

// listToolsResult decodes tools/list with the input schema kept raw.
type listToolsResult struct {
	Tools      []MCPToolSchema `json:"tools"`
	NextCursor mcpproto.Cursor `json:"nextCursor,omitempty"`
}

// ListTools pages through tools/list until the server stops returning a
// cursor. A server that does not advertise tools yields an empty list.
func (c *Client) ListTools(ctx context.Context) ([]MCPToolSchema, error) {
	c.mu.RLock()
	initialized, hasTools := c.initialized, c.caps.Tools
	c.mu.RUnlock()
	if !initialized {
		return nil, ErrNotConnected
	}
	if !hasTools {
		c.setTools(nil)
		return nil, nil
	}

	var all []MCPToolSchema
	var cursor mcpproto.Cursor
	seen := map[mcpproto.Cursor]bool{}
	for page := 0; ; page++ {
		if page >= maxToolPages {
			return nil, newError(KindProtocol, nil, "%s returned more than %d pages of tools", c.name, maxToolPages)
		}

		raw, err := c.request(ctx, string(mcpproto.MethodToolsList), mcpproto.PaginatedParams{Cursor: cursor}, c.requestTimeout)
		if err != nil {
			return nil, err
		}
		var result listToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, newError(KindInvalidResponse, err, "tools/list result from %s", c.name)
		}
		for _, tool := range result.Tools {
			if tool.Name == "" {
				logging.MCPWarn("%s listed a tool without a name, skipping", c.name)
				continue
			}
			all = append(all, tool)
		}

		if result.NextCursor == "" {
			break
		}
		if seen[result.NextCursor] {
			return nil, newError(KindProtocol, nil, "%s repeated pagination cursor %q", c.name, result.NextCursor)
		}
		seen[result.NextCursor] = true
		cursor = result.NextCursor
	}

	logging.MCPDebug("discovered %d tools from %s", len(all), c.name)
	c.setTools(all)
	return all, nil
}

func (c *Client) setTools(tools []MCPToolSchema) {
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
}

// CallTool invokes a tool. A tool-level failure is reported through
// IsError, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*MCPCallResult, error) {
	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	if !initialized {
		return nil, ErrNotConnected
	}
	if args == nil {
		args = map[string]any{}
	}

	raw, err := c.request(ctx, string(mcpproto.MethodToolsCall), mcpproto.CallToolParams{Name: name, Arguments: args}, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	parsed, err := mcpproto.ParseCallToolResult(&raw)
	if err != nil {
		return nil, newError(KindInvalidResponse, err, "tools/call result from %s", c.name)
	}
	return convertCallResult(parsed), nil
}

func convertCallResult(res *mcpproto.CallToolResult) *MCPCallResult {
	out := &MCPCallResult{IsError: res.IsError}
	for _, content := range res.Content {
		if block, ok := contentBlock(content); ok {
			out.Content = append(out.Content, block)
		}
	}
	return out
}

func contentBlock(content mcpproto.Content) (ContentBlock, bool) {
	switch v := content.(type) {
	case mcpproto.TextContent:
		return ContentBlock{Type: ContentText, Text: v.Text}, true
	case *mcpproto.TextContent:
		return ContentBlock{Type: ContentText, Text: v.Text}, true
	case mcpproto.ImageContent:
		return ContentBlock{Type: ContentImage, Data: v.Data, MIMEType: v.MIMEType}, true
	case *mcpproto.ImageContent:
		return ContentBlock{Type: ContentImage, Data: v.Data, MIMEType: v.MIMEType}, true
	case mcpproto.EmbeddedResource:
		return resourceBlock(v.Resource), true
	case *mcpproto.EmbeddedResource:
		return resourceBlock(v.Resource), true
	case mcpproto.ResourceLink:
		return ContentBlock{Type: ContentResource, URI: v.URI, MIMEType: v.MIMEType}, true
	case *mcpproto.ResourceLink:
		return ContentBlock{Type: ContentResource, URI: v.URI, MIMEType: v.MIMEType}, true
	}
	logging.MCPDebug("dropping unsupported content block %T", content)
	return ContentBlock{}, false
}

func resourceBlock(rc mcpproto.ResourceContents) ContentBlock {
	switch r := rc.(type) {
	case mcpproto.TextResourceContents:
		return ContentBlock{Type: ContentResource, URI: r.URI, MIMEType: r.MIMEType, Text: r.Text}
	case *mcpproto.TextResourceContents:
		return ContentBlock{Type: ContentResource, URI: r.URI, MIMEType: r.MIMEType, Text: r.Text}
	case mcpproto.BlobResourceContents:
		return ContentBlock{Type: ContentResource, URI: r.URI, MIMEType: r.MIMEType}
	case *mcpproto.BlobResourceContents:
		return ContentBlock{Type: ContentResource, URI: r.URI, MIMEType: r.MIMEType}
	}
	return ContentBlock{Type: ContentResource}
}

// Close ends the session and releases the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.transport.Close()
}

// IsConnected reports whether the handshake completed and the transport is
// still up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	return initialized && c.transport.IsConnected()
}

// ServerInfo returns the identity declared during initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Capabilities returns the capability flags declared during initialize.
func (c *Client) Capabilities() MCPCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// Tools returns the result of the last ListTools.
func (c *Client) Tools() []MCPToolSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MCPToolSchema(nil), c.tools...)
}

// request sends one request and reads until the matching response arrives.
// Notifications are dispatched and server requests answered on the way;
// responses for other ids are discarded.
func (c *Client) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.nextID++
	id := c.nextID

	data, err := encodeRequest(id, method, params)
	if err != nil {
		return nil, newError(KindProtocol, err, "encoding %s", method)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.transport.Send(reqCtx, data); err != nil {
		return nil, c.mapContextErr(ctx, err, method)
	}

	for {
		raw, err := c.transport.Receive(reqCtx)
		if err != nil {
			return nil, c.mapContextErr(ctx, err, method)
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			logging.MCPWarn("discarding message from %s: %v", c.name, err)
			continue
		}

		switch {
		case msg.isNotification():
			c.dispatchNotification(msg)
		case msg.isRequest():
			c.answer(reqCtx, msg)
		default:
			got, ok := msg.intID()
			if !ok || got != id {
				logging.MCPDebug("discarding response id %d from %s while awaiting %d", got, c.name, id)
				continue
			}
			return msg.resultOrError()
		}
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return newError(KindProtocol, err, "encoding %s", method)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := c.transport.Send(sendCtx, data); err != nil {
		return c.mapContextErr(ctx, err, method)
	}
	return nil
}

func (c *Client) dispatchNotification(msg *rpcMessage) {
	logging.MCPDebug("notification %s from %s", msg.Method, c.name)
	if c.onNotification != nil {
		c.onNotification(msg.Method, msg.Params)
	}
}

func (c *Client) answer(ctx context.Context, req *rpcMessage) {
	reply, err := replyTo(req)
	if err != nil {
		logging.MCPWarn("encoding reply to %s from %s: %v", req.Method, c.name, err)
		return
	}
	if err := c.transport.Send(ctx, reply); err != nil {
		logging.MCPWarn("replying to %s from %s: %v", req.Method, c.name, err)
	}
}

// mapContextErr turns the per-request deadline into ErrTimeout while
// passing through cancellation of the caller's context.
func (c *Client) mapContextErr(parent context.Context, err error, method string) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err, "%s on %s", method, c.name)
	}
	return err
}
