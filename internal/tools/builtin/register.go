package builtin

import (
	"deskagent/internal/tools"
	"deskagent/internal/types"
)

// Tool pairs a definition with its executor.
type Tool struct {
	Definition types.ToolDefinition
	Executor   tools.Executor
}

// All returns every built-in tool bound to desktop.
func All(desktop Desktop) []Tool {
	return []Tool{
		// Applications
		OpenApplicationTool(desktop),
		QuitApplicationTool(desktop),
		MoveWindowTool(desktop),

		// Information
		SystemInfoTool(),
		SearchFilesTool(),
	}
}

// RegisterAll registers all built-in tools with the given registry.
func RegisterAll(registry *tools.Registry, desktop Desktop) error {
	for _, tool := range All(desktop) {
		if err := registry.Register(tool.Definition, tool.Executor); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the ids of the built-in tools.
func IDs() []string {
	all := All(nil)
	ids := make([]string, 0, len(all))
	for _, tool := range all {
		ids = append(ids, tool.Definition.ID)
	}
	return ids
}
