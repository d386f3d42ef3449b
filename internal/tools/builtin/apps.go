package builtin

import (
	"context"
	"strings"

	"deskagent/internal/logging"
	"deskagent/internal/tools"
	"deskagent/internal/types"
)

// OpenApplicationTool returns a tool that launches an application.
func OpenApplicationTool(desktop Desktop) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			ID:          "open_application",
			DisplayName: "Open Application",
			Description: "Launch an application by name, e.g. Safari or Calculator",
			RiskLevel:   types.RiskSafe,
			Parameters: []types.ToolParameter{
				{Name: "name", Type: types.ParamString, Description: "Application name", Required: true},
			},
			RequiredCapabilities: []string{"apps"},
		},
		Executor: tools.ExecutorFunc(func(ctx context.Context, args types.Args) types.ToolExecutionResult {
			name, _ := args.String("name")
			name = strings.TrimSpace(name)
			if name == "" {
				return types.Failed("An application name is required")
			}

			logging.ToolsDebug("open_application: %s", name)
			if err := desktop.OpenApplication(ctx, name); err != nil {
				return types.Failed("Could not open %s: %v", name, err)
			}
			return types.Succeeded("Opened " + name)
		}),
	}
}

// QuitApplicationTool returns a tool that quits a running application.
func QuitApplicationTool(desktop Desktop) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			ID:          "quit_application",
			DisplayName: "Quit Application",
			Description: "Quit a running application. Unsaved work may be lost when force is set",
			RiskLevel:   types.RiskCaution,
			Parameters: []types.ToolParameter{
				{Name: "name", Type: types.ParamString, Description: "Application name", Required: true},
				{Name: "force", Type: types.ParamBool, Description: "Terminate without asking the application (default: false)"},
			},
			RequiredCapabilities: []string{"apps"},
		},
		Executor: tools.ExecutorFunc(func(ctx context.Context, args types.Args) types.ToolExecutionResult {
			name, _ := args.String("name")
			name = strings.TrimSpace(name)
			if name == "" {
				return types.Failed("An application name is required")
			}
			force, _ := args.Bool("force")

			logging.ToolsDebug("quit_application: %s (force=%v)", name, force)
			if err := desktop.QuitApplication(ctx, name, force); err != nil {
				return types.Failed("Could not quit %s: %v", name, err)
			}
			if force {
				return types.Succeeded("Force quit " + name)
			}
			return types.Succeeded("Quit " + name)
		}),
	}
}
