package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deskagent/internal/llm"
	"deskagent/internal/router"
	"deskagent/internal/types"
)

// legacyCommand is the single structured command the local model returns
// on the single-step path.
type legacyCommand struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Response  string          `json:"response"`
}

// runLegacy asks the local model for one built-in command and runs it.
// There is no tool loop and plugin tools are not offered.
func (o *Orchestrator) runLegacy(ctx context.Context, t *turn) Result {
	t.route = router.ProviderLocal
	t.provider = o.deps.Local
	t.audit.Route(string(t.route), "cloud model unavailable, single-step local command")
	if t.provider == nil || !t.provider.Available(ctx) {
		return o.fail(t, fmt.Errorf("%w: no cloud API key is configured and the local model is not running", ErrProviderUnavailable))
	}
	if err := o.check(ctx); err != nil {
		return o.fail(t, err)
	}

	builtins := o.builtinDefinitions()
	o.status("Thinking…")
	resp, err := o.call(ctx, t, &llm.Request{
		System:    legacyPrompt(builtins),
		Messages:  []llm.Message{llm.UserText(t.input)},
		MaxTokens: o.settings.MaxTokens,
		JSON:      true,
	})
	t.rounds = 1
	if err != nil {
		if cerr := o.check(ctx); cerr != nil {
			return o.fail(t, cerr)
		}
		return o.fail(t, fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}

	cmd, err := parseLegacyCommand(resp.Text())
	if err != nil {
		return o.fail(t, err)
	}
	if cmd.Tool == "" {
		return Result{Text: cmd.Response, Success: true}
	}
	if !containsTool(builtins, cmd.Tool) {
		return o.fail(t, fmt.Errorf("%w: %q is not a built-in command", ErrMalformedResponse, cmd.Tool))
	}
	args, err := types.ParseArgs(cmd.Arguments)
	if err != nil {
		return o.fail(t, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	call := types.ToolCall{ID: "legacy_" + uuid.NewString(), ToolID: cmd.Tool, Arguments: args}
	out, err := o.runTool(ctx, t, call)
	if err != nil {
		return o.fail(t, err)
	}
	return Result{Text: out.Message, Success: out.Success}
}

func (o *Orchestrator) builtinDefinitions() []types.ToolDefinition {
	var defs []types.ToolDefinition
	for _, def := range o.deps.Tools.Definitions() {
		if def.Source == types.SourceBuiltin {
			defs = append(defs, def)
		}
	}
	return defs
}

func containsTool(defs []types.ToolDefinition, id string) bool {
	for _, def := range defs {
		if def.ID == id {
			return true
		}
	}
	return false
}

// parseLegacyCommand extracts the JSON object from the model's reply,
// tolerating code fences and surrounding prose.
func parseLegacyCommand(text string) (legacyCommand, error) {
	var cmd legacyCommand
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return cmd, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	cmd.Tool = strings.TrimSpace(cmd.Tool)
	if cmd.Tool == "" && strings.TrimSpace(cmd.Response) == "" {
		return cmd, fmt.Errorf("%w: neither a command nor a response", ErrMalformedResponse)
	}
	return cmd, nil
}
