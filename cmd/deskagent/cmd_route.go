package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"deskagent/internal/router"
	"deskagent/internal/tools/builtin"
)

var routeMode string

// routeCmd shows where a request would be sent
var routeCmd = &cobra.Command{
	Use:   "route [request]",
	Short: "Show which model a request would be routed to",
	Long: `Runs the routing decision for a request without calling any model.

Examples:
  deskagent route "open Safari"
  deskagent route --mode always_cloud "take a screenshot and then summarize it"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

func init() {
	routeCmd.Flags().StringVar(&routeMode, "mode", "", "Routing mode to use instead of the configured one (auto, always_local, always_cloud)")
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, builtin.NewSystemDesktop())
	if err != nil {
		return err
	}
	defer a.close()

	if routeMode != "" {
		mode, err := router.ParseMode(routeMode)
		if err != nil {
			return err
		}
		a.router.SetMode(mode)
	}

	input := joinArgs(args)
	decision := a.router.Route(input)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider: %s\n", decision.Provider)
	fmt.Fprintf(out, "Reason:   %s\n", decision.Reason)
	fmt.Fprintf(out, "Mode:     %s\n", a.router.Mode())
	fmt.Fprintf(out, "Complex:  %v\n", a.router.IsComplex(input))
	return nil
}
