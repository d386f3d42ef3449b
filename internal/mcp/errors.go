package mcp

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates protocol client failures.
type ErrorKind int

const (
	KindNotConnected ErrorKind = iota + 1
	KindConnectionFailed
	KindProtocol
	KindTimeout
	KindServer
	KindInvalidResponse
	KindProcessLaunch
	KindTransportClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not connected"
	case KindConnectionFailed:
		return "connection failed"
	case KindProtocol:
		return "protocol error"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server error"
	case KindInvalidResponse:
		return "invalid response"
	case KindProcessLaunch:
		return "process launch failed"
	case KindTransportClosed:
		return "transport closed"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// Error is the single error type returned by transports, the client and the
// manager. Code is set for server errors (JSON-RPC code or HTTP status).
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindServer && e.Code != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, so errors.Is(err, ErrTimeout) works for any timeout.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Code == 0 && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrNotConnected     = &Error{Kind: KindNotConnected}
	ErrConnectionFailed = &Error{Kind: KindConnectionFailed}
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrServer           = &Error{Kind: KindServer}
	ErrInvalidResponse  = &Error{Kind: KindInvalidResponse}
	ErrProcessLaunch    = &Error{Kind: KindProcessLaunch}
	ErrTransportClosed  = &Error{Kind: KindTransportClosed}
)

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ServerError builds a KindServer error from a JSON-RPC error object or an
// HTTP status.
func ServerError(code int, message string) *Error {
	return &Error{Kind: KindServer, Code: code, Message: message}
}
