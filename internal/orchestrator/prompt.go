package orchestrator

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"deskagent/internal/types"
)

const defaultSystemPrompt = `You are a desktop assistant running on the user's computer.
Use the available tools to carry out requests. Call a tool only when the request needs it,
and answer in plain text once the work is done. Keep answers short.
If a tool result reports an error, explain what went wrong instead of retrying the same call.`

func (o *Orchestrator) systemPrompt() string {
	base := o.settings.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}
	return fmt.Sprintf("%s\n\nPlatform: %s. Current time: %s.", base, runtime.GOOS, time.Now().Format(time.RFC1123))
}

// legacyPrompt describes the built-in commands and the JSON reply format
// expected from the local model.
func legacyPrompt(defs []types.ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(`You control a desktop computer. Reply with one JSON object and nothing else.
To run a command reply {"tool": "<command id>", "arguments": {<arguments>}}.
To answer without running a command reply {"response": "<answer>"}.

Commands:
`)
	for _, def := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", def.ID, def.Description)
		for _, p := range def.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			typ := string(p.Type)
			if len(p.Values) > 0 {
				typ = "one of " + strings.Join(p.Values, ", ")
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s\n", p.Name, typ, req, p.Description)
		}
	}
	return sb.String()
}
