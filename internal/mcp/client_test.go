package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

func connectedClient(t *testing.T, server *fakeServer, opts ...Option) (*Client, *memTransport) {
	t.Helper()
	tr := newMemTransport(server)
	c := NewClient("fake", tr, opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func TestClientHandshake(t *testing.T) {
	server := newFakeServer()
	c, tr := connectedClient(t, server)

	info := c.ServerInfo()
	assert.Equal(t, "fake", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, mcpproto.LATEST_PROTOCOL_VERSION, info.ProtocolVersion)
	assert.Equal(t, "be nice", info.Instructions)

	caps := c.Capabilities()
	assert.True(t, caps.Tools)
	assert.True(t, caps.ToolsListChanged)
	assert.False(t, caps.Resources)
	assert.True(t, c.IsConnected())

	sent := tr.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, string(mcpproto.MethodInitialize), sent[0].Method)
	assert.NotNil(t, sent[0].ID)
	assert.Equal(t, methodInitialized, sent[1].Method)
	assert.Nil(t, sent[1].ID, "initialized is a notification")

	var params mcpproto.InitializeParams
	require.NoError(t, json.Unmarshal(sent[0].Params, &params))
	assert.Equal(t, mcpproto.LATEST_PROTOCOL_VERSION, params.ProtocolVersion)
	assert.Equal(t, clientName, params.ClientInfo.Name)
}

func TestClientListToolsFollowsCursor(t *testing.T) {
	server := newFakeServer()
	c, _ := connectedClient(t, server)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "delete_file", tools[1].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`, string(tools[0].InputSchema))
	require.NotNil(t, tools[0].Annotations.ReadOnlyHint)
	assert.True(t, *tools[0].Annotations.ReadOnlyHint)
	assert.Equal(t, "Delete File", tools[1].Annotations.Title)

	assert.Equal(t, []string{"", "page-1"}, server.cursors)
	assert.Len(t, c.Tools(), 2)
}

func TestClientListToolsRepeatedCursor(t *testing.T) {
	server := newFakeServer()
	server.stuckCursor = "page-0"
	c, _ := connectedClient(t, server)

	_, err := c.ListTools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestClientWithoutToolCapability(t *testing.T) {
	server := newFakeServer()
	server.noTools = true
	c, _ := connectedClient(t, server)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools)
	assert.NotContains(t, server.seenMethods(), string(mcpproto.MethodToolsList))
}

func TestClientCallToolSkipsInterleavedMessages(t *testing.T) {
	server := newFakeServer()

	var mu sync.Mutex
	var notifications []string
	c, _ := connectedClient(t, server, WithNotificationHandler(func(method string, _ json.RawMessage) {
		mu.Lock()
		notifications = append(notifications, method)
		mu.Unlock()
	}))

	res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.Text())

	mu.Lock()
	assert.Equal(t, []string{"notifications/message"}, notifications)
	mu.Unlock()

	replies := server.seenReplies()
	require.Len(t, replies, 2, "both server requests are answered")
	assert.JSONEq(t, `{}`, string(replies[0].Result))
	assert.Nil(t, replies[0].Error)
	require.NotNil(t, replies[1].Error)
	assert.Equal(t, mcpproto.METHOD_NOT_FOUND, replies[1].Error.Code)
	assert.Equal(t, "srv-1", replies[1].ID.Value())
}

func TestClientCallToolContentBlocks(t *testing.T) {
	c, _ := connectedClient(t, newFakeServer())

	res, err := c.CallTool(context.Background(), "mixed", nil)
	require.NoError(t, err)
	require.Len(t, res.Content, 4)

	assert.Equal(t, ContentBlock{Type: ContentText, Text: "header"}, res.Content[0])
	assert.Equal(t, ContentBlock{Type: ContentImage, Data: "aGVsbG8=", MIMEType: "image/png"}, res.Content[1])
	assert.Equal(t, ContentBlock{Type: ContentResource, URI: "file:///tmp/a.txt", MIMEType: "text/plain", Text: "inline body"}, res.Content[2])
	assert.Equal(t, ContentBlock{Type: ContentResource, URI: "file:///tmp/b.bin", MIMEType: "application/octet-stream"}, res.Content[3])

	text := res.Text()
	assert.Contains(t, text, "header")
	assert.Contains(t, text, "[image: image/png")
	assert.Contains(t, text, "inline body")
	assert.Contains(t, text, "[resource: file:///tmp/b.bin]")
}

func TestClientCallToolIsError(t *testing.T) {
	c, _ := connectedClient(t, newFakeServer())

	res, err := c.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "it broke", res.Text())
}

func TestClientServerError(t *testing.T) {
	c, _ := connectedClient(t, newFakeServer())

	_, err := c.CallTool(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServer)

	var mcpErr *Error
	require.True(t, errors.As(err, &mcpErr))
	assert.Equal(t, mcpproto.INVALID_PARAMS, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "unknown tool: nope")
}

func TestClientRequestTimeout(t *testing.T) {
	c, _ := connectedClient(t, newFakeServer(), WithRequestTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := c.CallTool(context.Background(), "hang", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The client stays usable after a timeout.
	res, err := c.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestClientCallerCancellation(t *testing.T) {
	c, _ := connectedClient(t, newFakeServer())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := c.CallTool(ctx, "hang", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestClientRequestIDsIncrease(t *testing.T) {
	c, tr := connectedClient(t, newFakeServer())

	_, err := c.ListTools(context.Background())
	require.NoError(t, err)
	_, err = c.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err)

	var last int64
	for _, msg := range tr.sentMessages() {
		if msg.ID == nil || msg.Method == "" {
			continue
		}
		id, ok := msg.intID()
		require.True(t, ok)
		assert.Greater(t, id, last)
		last = id
	}
	assert.EqualValues(t, 4, last)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("fake", newMemTransport(newFakeServer()))

	_, err := c.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestClientConnectStartFailure(t *testing.T) {
	tr := newMemTransport(newFakeServer())
	tr.startErr = errors.New("socket exploded")
	c := NewClient("fake", tr)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "socket exploded")
}

func TestClientCloseReleasesTransport(t *testing.T) {
	c, tr := connectedClient(t, newFakeServer())
	require.NoError(t, c.Close())
	assert.False(t, tr.IsConnected())
	assert.False(t, c.IsConnected())

	_, err := c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}
