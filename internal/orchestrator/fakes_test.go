package orchestrator

import (
	"context"
	"errors"
	"sync"

	"deskagent/internal/llm"
	"deskagent/internal/types"
)

type step func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// scriptedProvider answers Generate calls from a fixed script and keeps a
// copy of every request it saw.
type scriptedProvider struct {
	name      string
	available bool

	mu       sync.Mutex
	steps    []step
	repeat   step
	requests []llm.Request
}

func newProvider(name string, steps ...step) *scriptedProvider {
	return &scriptedProvider{name: name, available: true, steps: steps}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Available(ctx context.Context) bool { return p.available }

func (p *scriptedProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	n := len(p.requests)
	copied := *req
	copied.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, copied)
	var next step
	switch {
	case n < len(p.steps):
		next = p.steps[n]
	case p.repeat != nil:
		next = p.repeat
	}
	p.mu.Unlock()

	if next == nil {
		return nil, errors.New("script exhausted")
	}
	return next(ctx, req)
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func final(text string) step {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: []llm.ContentBlock{llm.TextBlock(text)}, StopReason: llm.StopEndTurn, Model: "test"}, nil
	}
}

func toolUse(id, name string, args types.Args) step {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Content:    []llm.ContentBlock{{Type: llm.BlockToolUse, ID: id, Name: name, Input: args}},
			StopReason: llm.StopToolUse,
			Model:      "test",
		}, nil
	}
}

func failing(err error) step {
	return func(context.Context, *llm.Request) (*llm.Response, error) { return nil, err }
}

func blockUntilDone(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordedConfirm struct {
	call   types.ToolCall
	reason string
	risk   types.RiskLevel
}

type fakeConfirmer struct {
	mu      sync.Mutex
	answer  bool
	asked   []recordedConfirm
	onAsked func()
}

func (c *fakeConfirmer) Confirm(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool {
	c.mu.Lock()
	c.asked = append(c.asked, recordedConfirm{call: call, reason: reason, risk: risk})
	hook := c.onAsked
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.answer
}

type fakePlugins struct {
	mu          sync.Mutex
	calls       int
	hadDeadline bool
	err         error
}

func (f *fakePlugins) ConnectAllEnabled(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	return f.err
}

type statusLog struct {
	mu       sync.Mutex
	messages []string
}

func (s *statusLog) Status(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *statusLog) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
