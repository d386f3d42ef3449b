package builtin

import (
	"context"
	"fmt"
	"strings"

	"deskagent/internal/logging"
	"deskagent/internal/tools"
	"deskagent/internal/types"
)

// Placement is where move_window puts a window.
type Placement string

const (
	PlaceLeft     Placement = "left"
	PlaceRight    Placement = "right"
	PlaceTop      Placement = "top"
	PlaceBottom   Placement = "bottom"
	PlaceCenter   Placement = "center"
	PlaceMaximize Placement = "maximize"
)

var placements = []string{
	string(PlaceLeft), string(PlaceRight), string(PlaceTop),
	string(PlaceBottom), string(PlaceCenter), string(PlaceMaximize),
}

// MoveWindowTool returns a tool that places an application's front window.
func MoveWindowTool(desktop Desktop) Tool {
	return Tool{
		Definition: types.ToolDefinition{
			ID:          "move_window",
			DisplayName: "Move Window",
			Description: "Move and resize the front window of an application to a screen region",
			RiskLevel:   types.RiskSafe,
			Parameters: []types.ToolParameter{
				{Name: "application", Type: types.ParamString, Description: "Application that owns the window", Required: true},
				{Name: "position", Type: types.ParamEnum, Values: placements, Description: "Screen region", Required: true},
			},
			RequiredCapabilities: []string{"windows"},
		},
		Executor: tools.ExecutorFunc(func(ctx context.Context, args types.Args) types.ToolExecutionResult {
			app, _ := args.String("application")
			app = strings.TrimSpace(app)
			pos, _ := args.String("position")
			if app == "" {
				return types.Failed("An application name is required")
			}

			logging.ToolsDebug("move_window: %s -> %s", app, pos)
			if err := desktop.MoveWindow(ctx, app, Placement(pos)); err != nil {
				return types.Failed("Could not move the %s window: %v", app, err)
			}
			return types.Succeeded(fmt.Sprintf("Moved %s to the %s", app, describePlacement(Placement(pos))))
		}),
	}
}

func describePlacement(p Placement) string {
	switch p {
	case PlaceLeft, PlaceRight, PlaceTop, PlaceBottom:
		return string(p) + " half of the screen"
	case PlaceMaximize:
		return "full screen"
	default:
		return "center of the screen"
	}
}
