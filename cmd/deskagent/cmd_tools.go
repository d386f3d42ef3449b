package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deskagent/internal/tools/builtin"
)

var toolsConnect bool

// toolsCmd groups tool registry commands
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tool registry",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	Long: `Lists the built-in tools. With --connect, enabled plugin servers are
connected first and their tools are listed too.`,
	RunE: runToolsList,
}

func init() {
	toolsListCmd.Flags().BoolVar(&toolsConnect, "connect", false, "Connect enabled plugin servers and include their tools")
	toolsCmd.AddCommand(toolsListCmd)
}

func runToolsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, builtin.NewSystemDesktop())
	if err != nil {
		return err
	}
	defer a.close()

	if toolsConnect {
		if err := a.openPlugins(ctx, false); err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.GetPluginConnectWait())
		defer cancel()
		if err := a.manager.ConnectAllEnabled(connectCtx); err != nil {
			logger.Warn("Some plugins did not connect", zap.Error(err))
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRISK\tSOURCE\tDESCRIPTION")
	for _, def := range a.registry.Definitions() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.ID, def.RiskLevel, def.Source, def.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d tools\n", a.registry.Count())
	return nil
}
