package builtin

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"deskagent/internal/tools"
	"deskagent/internal/types"
)

var infoCategories = []string{"all", "os", "hardware", "user", "time"}

// now is swapped in tests.
var now = time.Now

// SystemInfoTool returns a tool that reports facts about this machine.
func SystemInfoTool() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			ID:          "get_system_info",
			DisplayName: "System Info",
			Description: "Report operating system, hardware, current user and local time",
			RiskLevel:   types.RiskSafe,
			Parameters: []types.ToolParameter{
				{Name: "category", Type: types.ParamEnum, Values: infoCategories, Description: "Which details to report (default: all)"},
			},
			RequiredCapabilities: []string{"system"},
		},
		Executor: tools.ExecutorFunc(executeSystemInfo),
	}
}

func executeSystemInfo(_ context.Context, args types.Args) types.ToolExecutionResult {
	category, ok := args.String("category")
	if !ok || category == "" {
		category = "all"
	}
	want := func(c string) bool { return category == "all" || category == c }

	var lines []string
	if want("os") {
		host, _ := os.Hostname()
		lines = append(lines,
			fmt.Sprintf("OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
			fmt.Sprintf("Hostname: %s", host),
		)
	}
	if want("hardware") {
		lines = append(lines, fmt.Sprintf("CPUs: %d", runtime.NumCPU()))
	}
	if want("user") {
		if u, err := user.Current(); err == nil {
			lines = append(lines, fmt.Sprintf("User: %s", u.Username))
		}
		if home, err := os.UserHomeDir(); err == nil {
			lines = append(lines, fmt.Sprintf("Home: %s", home))
		}
	}
	if want("time") {
		t := now()
		zone, _ := t.Zone()
		lines = append(lines, fmt.Sprintf("Local time: %s (%s)", t.Format("Monday, 2 January 2006 15:04"), zone))
	}

	if len(lines) == 0 {
		return types.Failed("No system information available for %q", category)
	}
	return types.Succeeded(strings.Join(lines, "\n"))
}
