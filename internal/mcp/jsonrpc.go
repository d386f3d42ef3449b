package mcp

import (
	"encoding/json"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

const (
	methodInitialized = "notifications/initialized"
	methodPing        = string(mcpproto.MethodPing)
)

// rpcRequest is an outbound request or notification. Notifications leave
// ID nil so the field is omitted.
type rpcRequest struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      *mcpproto.RequestId `json:"id,omitempty"`
	Method  string              `json:"method"`
	Params  any                 `json:"params,omitempty"`
}

// rpcMessage is any inbound message: a response (id + result/error), a
// notification (method, no id) or a server-initiated request (id + method).
type rpcMessage struct {
	JSONRPC string                        `json:"jsonrpc"`
	ID      *mcpproto.RequestId           `json:"id,omitempty"`
	Method  string                        `json:"method,omitempty"`
	Params  json.RawMessage               `json:"params,omitempty"`
	Result  json.RawMessage               `json:"result,omitempty"`
	Error   *mcpproto.JSONRPCErrorDetails `json:"error,omitempty"`
}

// rpcResponse answers a server-initiated request.
type rpcResponse struct {
	JSONRPC string                        `json:"jsonrpc"`
	ID      mcpproto.RequestId            `json:"id"`
	Result  any                           `json:"result,omitempty"`
	Error   *mcpproto.JSONRPCErrorDetails `json:"error,omitempty"`
}

func encodeRequest(id int64, method string, params any) ([]byte, error) {
	rid := mcpproto.NewRequestId(id)
	return json.Marshal(rpcRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		ID:      &rid,
		Method:  method,
		Params:  params,
	})
}

func encodeNotification(method string, params any) ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: mcpproto.JSONRPC_VERSION,
		Method:  method,
		Params:  params,
	})
}

func decodeMessage(data []byte) (*rpcMessage, error) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, newError(KindInvalidResponse, err, "malformed JSON-RPC message")
	}
	if msg.JSONRPC != mcpproto.JSONRPC_VERSION {
		return nil, newError(KindProtocol, nil, "unexpected jsonrpc version %q", msg.JSONRPC)
	}
	return &msg, nil
}

func (m *rpcMessage) isNotification() bool {
	return m.ID == nil && m.Method != ""
}

func (m *rpcMessage) isRequest() bool {
	return m.ID != nil && m.Method != ""
}

// intID returns the numeric id of a response; string ids never match ours.
func (m *rpcMessage) intID() (int64, bool) {
	if m.ID == nil {
		return 0, false
	}
	switch v := m.ID.Value().(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	}
	return 0, false
}

// resultOrError converts the response into its result payload or a
// ServerError.
func (m *rpcMessage) resultOrError() (json.RawMessage, error) {
	if m.Error != nil {
		return nil, ServerError(m.Error.Code, m.Error.Message)
	}
	if m.Result == nil {
		return nil, newError(KindInvalidResponse, nil, "response has neither result nor error")
	}
	return m.Result, nil
}

// replyTo builds the answer to a server-initiated request: ping gets an
// empty result, anything else is refused.
func replyTo(req *rpcMessage) ([]byte, error) {
	resp := rpcResponse{JSONRPC: mcpproto.JSONRPC_VERSION, ID: *req.ID}
	if req.Method == methodPing {
		resp.Result = struct{}{}
	} else {
		resp.Error = &mcpproto.JSONRPCErrorDetails{
			Code:    mcpproto.METHOD_NOT_FOUND,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
	return json.Marshal(resp)
}
