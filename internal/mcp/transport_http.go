package mcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deskagent/internal/logging"
)

const (
	sessionHeader     = "Mcp-Session-Id"
	maxErrorBodyBytes = 4096
	closeTimeout      = 5 * time.Second
)

// HTTPTransport speaks MCP over HTTPS POST. Each Send is one request; its
// reply (a JSON body or an SSE stream of messages) is queued for Receive
// before Send returns.
type HTTPTransport struct {
	mu sync.Mutex

	rawURL   string
	endpoint *url.URL
	client   *http.Client
	headers  map[string]string
	token    string
	session  string

	queue  [][]byte
	notify chan struct{}
	closed chan struct{}

	started  bool
	isClosed bool
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) { t.headers[key] = value }
}

// WithBearerToken sends token in the Authorization header.
func WithBearerToken(token string) HTTPOption {
	return func(t *HTTPTransport) { t.token = token }
}

// NewHTTPTransport creates a new HTTP transport for MCP communication.
func NewHTTPTransport(rawURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		rawURL:  rawURL,
		client:  &http.Client{},
		headers: make(map[string]string),
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start validates the endpoint. Only https URLs are accepted.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(t.rawURL)
	if err != nil {
		return newError(KindConnectionFailed, err, "invalid url %q", t.rawURL)
	}
	if u.Scheme != "https" {
		return newError(KindConnectionFailed, nil, "refusing non-https endpoint %s", u.Redacted())
	}
	if u.Host == "" {
		return newError(KindConnectionFailed, nil, "url %q has no host", t.rawURL)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed {
		return ErrTransportClosed
	}
	t.endpoint = u
	t.started = true
	return nil
}

// Send posts msg and queues whatever the server answers with.
func (t *HTTPTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	if !t.started || t.isClosed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	endpoint := t.endpoint.String()
	session := t.session
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(msg))
	if err != nil {
		return newError(KindConnectionFailed, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(KindConnectionFailed, err, "POST %s", t.endpoint.Redacted())
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(sessionHeader); id != "" {
		t.mu.Lock()
		if t.session != id {
			logging.TransportDebug("session id set for %s", t.endpoint.Host)
		}
		t.session = id
		t.mu.Unlock()
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return t.consumeReply(resp)
	case http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return ServerError(resp.StatusCode, text)
	}
}

func (t *HTTPTransport) consumeReply(resp *http.Response) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		err := readSSE(resp.Body, func(ev sseEvent) {
			if ev.Type != "message" {
				logging.TransportDebug("ignoring SSE event %q from %s", ev.Type, t.endpoint.Host)
				return
			}
			if len(bytes.TrimSpace(ev.Data)) > 0 {
				t.enqueue(ev.Data)
			}
		})
		if err != nil {
			return newError(KindInvalidResponse, err, "reading event stream")
		}
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(KindConnectionFailed, err, "reading response body")
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		t.enqueue(body)
	}
	return nil
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

func (t *HTTPTransport) enqueue(msg []byte) {
	t.mu.Lock()
	t.queue = append(t.queue, msg)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Receive returns the next queued message.
func (t *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		t.mu.Lock()
		if !t.started {
			t.mu.Unlock()
			return nil, ErrNotConnected
		}
		if len(t.queue) > 0 {
			msg := t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return msg, nil
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-t.closed:
			return nil, ErrTransportClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close ends the session. A session id, if any, is released with DELETE.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	if t.isClosed {
		t.mu.Unlock()
		return nil
	}
	t.isClosed = true
	session := t.session
	endpoint := t.endpoint
	close(t.closed)
	t.mu.Unlock()

	if session == "" || endpoint == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint.String(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionHeader, session)
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			logging.TransportDebug("session delete for %s failed: %v", endpoint.Host, err)
		}
		return nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		logging.TransportDebug("session delete for %s returned %d", endpoint.Host, resp.StatusCode)
	}
	return nil
}

// IsConnected returns current connection status.
func (t *HTTPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.isClosed
}

var _ Transport = (*HTTPTransport)(nil)
