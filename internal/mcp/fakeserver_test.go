package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// fakeServer answers MCP requests the way a small plugin would. It backs
// both the in-memory transport and the helper process.
type fakeServer struct {
	mu sync.Mutex

	name        string
	noTools     bool
	listChanged bool
	stuckCursor string
	pages       [][]map[string]any
	cursors     []string

	methods []string
	replies []*rpcMessage
	params  []json.RawMessage
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		name:        "fake",
		listChanged: true,
		pages: [][]map[string]any{
			{{
				"name":        "echo",
				"description": "Echo the text argument",
				"inputSchema": map[string]any{
					"type":       "object",
					"properties": map[string]any{"text": map[string]any{"type": "string"}},
					"required":   []string{"text"},
				},
				"annotations": map[string]any{"readOnlyHint": true},
			}},
			{{
				"name":        "delete_file",
				"description": "Delete a file",
				"inputSchema": map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}},
				"annotations": map[string]any{"destructiveHint": true, "title": "Delete File"},
			}},
		},
	}
}

func (s *fakeServer) setPages(pages ...[]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = pages
	s.cursors = nil
}

func (s *fakeServer) seenMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *fakeServer) seenReplies() []*rpcMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*rpcMessage(nil), s.replies...)
}

func (s *fakeServer) seenParams() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.params...)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func resultMsg(id *mcpproto.RequestId, result any) []byte {
	return mustJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func errorMsg(id *mcpproto.RequestId, code int, message string) []byte {
	return mustJSON(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

func notificationMsg(method string, params any) []byte {
	return mustJSON(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func textResult(text string, isError bool) map[string]any {
	return map[string]any{
		"content": []any{map[string]any{"type": "text", "text": text}},
		"isError": isError,
	}
}

// handle returns the messages the server writes in answer to msg. A nil
// slice means no reply.
func (s *fakeServer) handle(msg *rpcMessage) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Method == "" {
		s.replies = append(s.replies, msg)
		return nil
	}
	s.methods = append(s.methods, msg.Method)
	s.params = append(s.params, msg.Params)

	switch msg.Method {
	case string(mcpproto.MethodInitialize):
		caps := map[string]any{}
		if !s.noTools {
			caps["tools"] = map[string]any{"listChanged": s.listChanged}
		}
		return [][]byte{resultMsg(msg.ID, map[string]any{
			"protocolVersion": mcpproto.LATEST_PROTOCOL_VERSION,
			"capabilities":    caps,
			"serverInfo":      map[string]any{"name": s.name, "version": "1.2.3"},
			"instructions":    "be nice",
		})}

	case methodInitialized:
		return nil

	case string(mcpproto.MethodToolsList):
		var p struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(msg.Params, &p)
		s.cursors = append(s.cursors, p.Cursor)
		page := 0
		if p.Cursor != "" {
			_, _ = fmt.Sscanf(p.Cursor, "page-%d", &page)
		}
		if page >= len(s.pages) {
			return [][]byte{resultMsg(msg.ID, map[string]any{"tools": []any{}})}
		}
		result := map[string]any{"tools": s.pages[page]}
		if s.stuckCursor != "" {
			result["nextCursor"] = s.stuckCursor
		} else if page+1 < len(s.pages) {
			result["nextCursor"] = fmt.Sprintf("page-%d", page+1)
		}
		return [][]byte{resultMsg(msg.ID, result)}

	case string(mcpproto.MethodToolsCall):
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return [][]byte{errorMsg(msg.ID, mcpproto.INVALID_PARAMS, err.Error())}
		}
		return s.callTool(msg.ID, p.Name, p.Arguments)

	default:
		return [][]byte{errorMsg(msg.ID, mcpproto.METHOD_NOT_FOUND, "no such method")}
	}
}

func (s *fakeServer) callTool(id *mcpproto.RequestId, name string, args map[string]any) [][]byte {
	switch name {
	case "echo":
		text, _ := args["text"].(string)
		stray := mcpproto.NewRequestId(int64(99999))
		serverReq := mcpproto.NewRequestId("srv-1")
		return [][]byte{
			notificationMsg("notifications/message", map[string]any{"level": "info", "data": "working"}),
			resultMsg(&stray, textResult("stale", false)),
			mustJSON(map[string]any{"jsonrpc": "2.0", "id": &serverReq, "method": "ping"}),
			mustJSON(map[string]any{"jsonrpc": "2.0", "id": &serverReq, "method": "sampling/createMessage"}),
			resultMsg(id, textResult(text, false)),
		}
	case "fail":
		return [][]byte{resultMsg(id, textResult("it broke", true))}
	case "mixed":
		return [][]byte{resultMsg(id, map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "header"},
				map[string]any{"type": "image", "data": "aGVsbG8=", "mimeType": "image/png"},
				map[string]any{"type": "resource", "resource": map[string]any{
					"uri": "file:///tmp/a.txt", "mimeType": "text/plain", "text": "inline body",
				}},
				map[string]any{"type": "resource", "resource": map[string]any{
					"uri": "file:///tmp/b.bin", "mimeType": "application/octet-stream", "blob": "AAEC",
				}},
			},
		})}
	case "change_tools":
		s.pages = [][]map[string]any{{{
			"name":        "fresh_tool",
			"description": "Appeared after a change",
			"inputSchema": map[string]any{"type": "object"},
		}}}
		return [][]byte{
			notificationMsg(mcpproto.MethodNotificationToolsListChanged, nil),
			resultMsg(id, textResult("changed", false)),
		}
	case "hang":
		return nil
	default:
		return [][]byte{errorMsg(id, mcpproto.INVALID_PARAMS, "unknown tool: "+name)}
	}
}

// serveLines runs the server over newline-delimited streams until r ends.
func (s *fakeServer) serveLines(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		msg, err := decodeMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		for _, reply := range s.handle(msg) {
			_, _ = w.Write(append(reply, '\n'))
		}
	}
}

// memTransport is an in-memory Transport wired to a fakeServer.
type memTransport struct {
	mu sync.Mutex

	server   *fakeServer
	in       chan []byte
	closedCh chan struct{}
	sent     [][]byte
	started  bool
	closed   bool
	startErr error
}

func newMemTransport(server *fakeServer) *memTransport {
	return &memTransport{
		server:   server,
		in:       make(chan []byte, 256),
		closedCh: make(chan struct{}),
	}
}

func (t *memTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	return nil
}

func (t *memTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.sent = append(t.sent, append([]byte(nil), msg...))
	t.mu.Unlock()

	decoded, err := decodeMessage(msg)
	if err != nil {
		return err
	}
	for _, reply := range t.server.handle(decoded) {
		t.in <- reply
	}
	return nil
}

func (t *memTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.in:
		return msg, nil
	case <-t.closedCh:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
	return nil
}

func (t *memTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.closed
}

func (t *memTransport) sentMessages() []*rpcMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*rpcMessage, 0, len(t.sent))
	for _, raw := range t.sent {
		if msg, err := decodeMessage(raw); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

var _ Transport = (*memTransport)(nil)
