package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"deskagent/internal/mcp"
	"deskagent/internal/tools/builtin"
)

var (
	pluginName     string
	pluginCommand  string
	pluginArgs     []string
	pluginURL      string
	pluginEnv      []string
	pluginDisabled bool
)

// pluginsCmd manages MCP plugin servers
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage MCP plugin servers",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured plugin servers and their last known status",
	RunE:  runPluginsList,
}

var pluginsAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Add a plugin server",
	Long: `Adds a plugin server to the server list. Stdio servers need --command,
HTTP servers need --url. --env names secrets read from the environment at
connect time; their values are never written to the server list.

Examples:
  deskagent plugins add filesystem --name Filesystem --command npx \
    --arg -y --arg @modelcontextprotocol/server-filesystem --arg /tmp
  deskagent plugins add search --name Search --url https://mcp.example.com/mcp --env SEARCH_TOKEN`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginsAdd,
}

var pluginsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a plugin server",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsRemove,
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable a plugin server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd, args[0], true)
	},
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable a plugin server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPluginEnabled(cmd, args[0], false)
	},
}

var pluginsConnectCmd = &cobra.Command{
	Use:   "connect [id]",
	Short: "Connect to plugin servers and list the tools they expose",
	Long: `Connects to one server, or to every enabled server when no id is given,
reports the resulting status and tools, then disconnects.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPluginsConnect,
}

func init() {
	pluginsAddCmd.Flags().StringVar(&pluginName, "name", "", "Display name (default: the id)")
	pluginsAddCmd.Flags().StringVar(&pluginCommand, "command", "", "Executable for a stdio server")
	pluginsAddCmd.Flags().StringArrayVar(&pluginArgs, "arg", nil, "Argument for the stdio command (repeatable)")
	pluginsAddCmd.Flags().StringVar(&pluginURL, "url", "", "Endpoint of an HTTP server")
	pluginsAddCmd.Flags().StringSliceVar(&pluginEnv, "env", nil, "Secret environment variable names")
	pluginsAddCmd.Flags().BoolVar(&pluginDisabled, "disabled", false, "Add the server disabled")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsAddCmd)
	pluginsCmd.AddCommand(pluginsRemoveCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
	pluginsCmd.AddCommand(pluginsConnectCmd)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	cfgs, err := mcp.LoadServerConfigs(cfg.ServersFilePath())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cfgs) == 0 {
		fmt.Fprintf(out, "No plugin servers configured (%s)\n", cfg.ServersFilePath())
		return nil
	}

	var store *mcp.Store
	if s, err := mcp.NewStore(cfg.StorePath()); err == nil {
		store = s
		defer store.Close()
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tENABLED\tLAST STATUS\tTARGET")
	for _, c := range cfgs {
		status := "never connected"
		if store != nil {
			if rec, err := store.Server(cmd.Context(), c.ID); err == nil && rec != nil {
				status = describeRecord(rec)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n", c.ID, c.Name, c.Transport, c.Enabled, status, pluginTarget(c))
	}
	return w.Flush()
}

func describeRecord(rec *mcp.ServerRecord) string {
	switch rec.State {
	case mcp.ServerStatusConnected:
		return fmt.Sprintf("connected (%d tools)", rec.ToolCount)
	case mcp.ServerStatusError:
		return "error: " + rec.LastError
	default:
		return string(rec.State)
	}
}

func pluginTarget(c mcp.ServerConfig) string {
	if c.Transport == mcp.ProtocolHTTP {
		return c.URL
	}
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

func runPluginsAdd(cmd *cobra.Command, args []string) error {
	path := cfg.ServersFilePath()
	cfgs, err := mcp.LoadServerConfigs(path)
	if err != nil {
		return err
	}

	c := mcp.ServerConfig{
		ID:          args[0],
		Name:        pluginName,
		Command:     pluginCommand,
		Args:        pluginArgs,
		URL:         pluginURL,
		EnvVarNames: pluginEnv,
		Enabled:     !pluginDisabled,
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	switch {
	case c.URL != "" && c.Command != "":
		return fmt.Errorf("use either --command or --url, not both")
	case c.URL != "":
		c.Transport = mcp.ProtocolHTTP
	default:
		c.Transport = mcp.ProtocolStdio
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if slices.ContainsFunc(cfgs, func(existing mcp.ServerConfig) bool { return existing.ID == c.ID }) {
		return fmt.Errorf("plugin server %q already exists", c.ID)
	}

	cfgs = append(cfgs, c)
	if err := mcp.SaveServerConfigs(path, cfgs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added plugin server %s (%s)\n", c.ID, c.Transport)
	return nil
}

func runPluginsRemove(cmd *cobra.Command, args []string) error {
	path := cfg.ServersFilePath()
	cfgs, err := mcp.LoadServerConfigs(path)
	if err != nil {
		return err
	}
	id := args[0]
	idx := slices.IndexFunc(cfgs, func(c mcp.ServerConfig) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("unknown plugin server %q", id)
	}
	cfgs = slices.Delete(cfgs, idx, idx+1)
	if err := mcp.SaveServerConfigs(path, cfgs); err != nil {
		return err
	}

	if store, err := mcp.NewStore(cfg.StorePath()); err == nil {
		if err := store.DeleteServer(cmd.Context(), id); err != nil {
			logger.Debug("Failed to forget plugin history")
		}
		store.Close()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed plugin server %s\n", id)
	return nil
}

func setPluginEnabled(cmd *cobra.Command, id string, enabled bool) error {
	path := cfg.ServersFilePath()
	cfgs, err := mcp.LoadServerConfigs(path)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(cfgs, func(c mcp.ServerConfig) bool { return c.ID == id })
	if idx < 0 {
		return fmt.Errorf("unknown plugin server %q", id)
	}
	cfgs[idx].Enabled = enabled
	if err := mcp.SaveServerConfigs(path, cfgs); err != nil {
		return err
	}
	state := "Disabled"
	if enabled {
		state = "Enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s plugin server %s\n", state, id)
	return nil
}

func runPluginsConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, builtin.NewSystemDesktop())
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.openPlugins(ctx, false); err != nil {
		return err
	}

	var ids []string
	if len(args) == 1 {
		if _, ok := a.manager.Config(args[0]); !ok {
			return fmt.Errorf("unknown plugin server %q", args[0])
		}
		ids = []string{args[0]}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.GetHandshakeTimeout())
		defer cancel()
		// Failures are recorded as status and reported below.
		_ = a.manager.Connect(connectCtx, args[0])
	} else {
		for _, c := range a.manager.Configs() {
			if c.Enabled {
				ids = append(ids, c.ID)
			}
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.GetPluginConnectWait())
		defer cancel()
		_ = a.manager.ConnectAllEnabled(connectCtx)
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No enabled plugin servers")
		return nil
	}
	failed := 0
	for _, id := range ids {
		status := a.manager.Status(id)
		fmt.Fprintf(out, "%s: %s\n", id, status)
		if status.State != mcp.ServerStatusConnected {
			failed++
			continue
		}
		for _, toolID := range a.manager.ToolIDs(id) {
			fmt.Fprintf(out, "  %s\n", toolID)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d plugin servers failed to connect", failed, len(ids))
	}
	return nil
}
