package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskagent/internal/llm"
)

// runPrimary drives the multi-round tool-use loop.
func (o *Orchestrator) runPrimary(ctx context.Context, t *turn) Result {
	o.connectPlugins(ctx, t)

	decision := o.deps.Router.Route(t.input)
	t.audit.Route(string(decision.Provider), decision.Reason)
	t.route = decision.Provider
	t.provider = o.provider(decision.Provider)

	req := &llm.Request{
		System:    o.systemPrompt(),
		Tools:     o.deps.Tools.ToolSchemas(),
		MaxTokens: o.settings.MaxTokens,
	}
	t.history = []llm.Message{llm.UserText(t.input)}

	for t.rounds < o.settings.MaxRounds {
		if err := o.check(ctx); err != nil {
			return o.fail(t, err)
		}
		o.status("Thinking…")
		req.Messages = t.history
		resp, err := o.generate(ctx, t, req)
		if err != nil {
			return o.fail(t, err)
		}
		t.rounds++
		// Tool-use protocols need the exact assistant turn replayed.
		t.history = append(t.history, resp.AssistantMessage())

		switch resp.StopReason {
		case llm.StopToolUse:
			calls := resp.ToolCalls()
			if len(calls) == 0 {
				return o.fail(t, ErrNoToolResults)
			}
			if text := resp.Text(); text != "" {
				t.lastAnswer = text
			}
			results, err := o.runTools(ctx, t, calls)
			if err != nil {
				return o.fail(t, err)
			}
			t.history = append(t.history, llm.Message{Role: llm.RoleUser, Content: results})

		case llm.StopMaxTokens:
			text := resp.Text()
			if text == "" {
				text = "The answer was cut off before it was complete."
			}
			return Result{Text: text}

		default:
			text := resp.Text()
			if text == "" {
				return o.fail(t, ErrNoFinalResponse)
			}
			return Result{Text: text, Success: true}
		}
	}
	return o.fail(t, ErrMaxRoundsExceeded)
}

func (o *Orchestrator) connectPlugins(ctx context.Context, t *turn) {
	if o.deps.Plugins == nil {
		return
	}
	o.status("Connecting plugins…")
	ctx, cancel := context.WithTimeout(ctx, o.settings.PluginConnectWait)
	defer cancel()
	if err := o.deps.Plugins.ConnectAllEnabled(ctx); err != nil {
		t.log.Warn("Some plugins did not connect: %v", err)
	}
}

// generate calls the turn's provider. On failure it switches to the other
// provider once per turn and retries the same step there.
func (o *Orchestrator) generate(ctx context.Context, t *turn, req *llm.Request) (*llm.Response, error) {
	resp, err := o.call(ctx, t, req)
	if err == nil {
		return resp, nil
	}
	if cerr := o.check(ctx); cerr != nil {
		return nil, cerr
	}
	if t.fellBack {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	next, ok := o.deps.Router.Fallback(t.route)
	if !ok || o.provider(next) == nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	t.fellBack = true
	t.audit.Fallback(string(t.route), string(next), err)
	t.log.Warn("%s model failed (%v), falling back to %s", t.route, err, next)
	t.route, t.provider = next, o.provider(next)
	o.status(fmt.Sprintf("Switching to the %s model…", next))

	resp, err = o.call(ctx, t, req)
	if err != nil {
		if cerr := o.check(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return resp, nil
}

func (o *Orchestrator) call(ctx context.Context, t *turn, req *llm.Request) (*llm.Response, error) {
	if t.provider == nil {
		return nil, fmt.Errorf("%s model: %w", t.route, llm.ErrNotConfigured)
	}
	start := time.Now()
	resp, err := t.provider.Generate(ctx, req)
	if err == nil && resp == nil {
		err = ErrMalformedResponse
	}

	model, errMsg := "", ""
	if resp != nil {
		model = resp.Model
	}
	if err != nil {
		errMsg = err.Error()
	}
	t.audit.LLMCall(t.provider.Name(), model, time.Since(start).Milliseconds(), err == nil, errMsg)
	return resp, err
}

// fail turns a loop-level error into a plain-text result.
func (o *Orchestrator) fail(t *turn, err error) Result {
	res := Result{Err: err}
	switch {
	case errors.Is(err, ErrAborted):
		res.Stopped = true
		res.Text = "Stopped."
	case errors.Is(err, ErrTimedOut):
		res.Text = fmt.Sprintf("I ran out of time after %s. Try a shorter request.", o.settings.TurnTimeout)
	case errors.Is(err, ErrMaxRoundsExceeded):
		res.Text = fmt.Sprintf("I reached the limit of %d rounds before finishing. Try splitting the request into smaller steps.", o.settings.MaxRounds)
	case errors.Is(err, ErrNoToolResults):
		res.Text = "The model asked to use a tool but did not say which one."
	case errors.Is(err, ErrNoFinalResponse):
		res.Text = "The model finished without an answer."
	case errors.Is(err, ErrMalformedResponse):
		res.Text = fmt.Sprintf("I couldn't understand the model's answer (%v).", err)
	case errors.Is(err, ErrProviderUnavailable):
		res.Text = fmt.Sprintf("I couldn't reach a language model (%v). Check your network connection or configure an API key.", err)
	default:
		res.Text = fmt.Sprintf("Something went wrong: %v", err)
	}
	if t.lastAnswer != "" && !res.Stopped {
		res.Text = t.lastAnswer + "\n\n" + res.Text
	}
	t.log.Warn("Turn ended early: %v", err)
	return res
}
