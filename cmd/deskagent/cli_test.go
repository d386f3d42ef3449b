package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deskagent/internal/config"
	"deskagent/internal/mcp"
	"deskagent/internal/tools/builtin"
	"deskagent/internal/types"
)

// useTempConfig points the command globals at a fresh data directory.
func useTempConfig(t *testing.T) *config.Config {
	t.Helper()
	logger = zap.NewNop()
	c := config.DefaultConfig()
	c.DataDir = t.TempDir()
	cfg = c
	t.Cleanup(func() { cfg = nil })
	return c
}

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func resetPluginFlags() {
	pluginName, pluginCommand, pluginURL = "", "", ""
	pluginArgs, pluginEnv = nil, nil
	pluginDisabled = false
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "open Safari", joinArgs([]string{"open", "Safari"}))
	assert.Equal(t, "", joinArgs(nil))
	assert.Equal(t, "hi", joinArgs([]string{" hi ", ""}))
}

func TestPromptConfirmer(t *testing.T) {
	call := types.ToolCall{ID: "1", ToolID: "quit_application", Arguments: types.Args{"name": types.String("Safari")}}

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
		{"eof", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := newPromptConfirmer(strings.NewReader(tt.input), &out)
			got := c.Confirm(context.Background(), call, "Quitting apps may lose work", types.RiskCaution)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Quitting apps may lose work")
			assert.Contains(t, out.String(), "Run quit_application (caution) with ")
			assert.Contains(t, out.String(), "[y/N]")
		})
	}
}

func TestPromptConfirmerCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	c := newPromptConfirmer(pr, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	ok := c.Confirm(ctx, types.ToolCall{ToolID: "search_files"}, "Needs approval", types.RiskSafe)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, out.String(), "Run search_files (safe)? [y/N] ")
}

func TestPromptConfirmerReusableAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newPromptConfirmer(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.Confirm(ctx, types.ToolCall{ToolID: "quit_application"}, "first", types.RiskCaution))

	go func() { _, _ = io.WriteString(pw, "yes\n") }()
	assert.True(t, c.Confirm(context.Background(), types.ToolCall{ToolID: "quit_application"}, "second", types.RiskCaution))

	go func() { _, _ = io.WriteString(pw, "no\n") }()
	assert.False(t, c.Confirm(context.Background(), types.ToolCall{ToolID: "quit_application"}, "third", types.RiskCaution))
}

func TestRouteCmd(t *testing.T) {
	useTempConfig(t)
	routeMode = "always_local"
	defer func() { routeMode = "" }()

	cmd, out := newTestCommand()
	require.NoError(t, runRoute(cmd, []string{"open", "Safari"}))

	text := out.String()
	assert.Contains(t, text, "Provider: local")
	assert.Contains(t, text, "Reason:   routing mode is always local")
	assert.Contains(t, text, "Complex:  false")
}

func TestRouteCmdRejectsUnknownMode(t *testing.T) {
	useTempConfig(t)
	routeMode = "sometimes"
	defer func() { routeMode = "" }()

	cmd, _ := newTestCommand()
	assert.Error(t, runRoute(cmd, []string{"hello"}))
}

func TestToolsListCmd(t *testing.T) {
	useTempConfig(t)
	toolsConnect = false

	cmd, out := newTestCommand()
	require.NoError(t, runToolsList(cmd, nil))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "ID"))
	for _, id := range builtin.IDs() {
		assert.Contains(t, text, id)
	}
	assert.Contains(t, text, "builtin")
}

func TestToolsListCmdConnectWithoutServers(t *testing.T) {
	useTempConfig(t)
	toolsConnect = true
	defer func() { toolsConnect = false }()

	cmd, out := newTestCommand()
	require.NoError(t, runToolsList(cmd, nil))
	assert.Contains(t, out.String(), "tools")
}

func TestPluginsLifecycle(t *testing.T) {
	c := useTempConfig(t)
	defer resetPluginFlags()

	cmd, out := newTestCommand()
	require.NoError(t, runPluginsList(cmd, nil))
	assert.Contains(t, out.String(), "No plugin servers configured")

	resetPluginFlags()
	pluginName = "Files"
	pluginCommand = "npx"
	pluginArgs = []string{"-y", "@modelcontextprotocol/server-filesystem"}
	out.Reset()
	require.NoError(t, runPluginsAdd(cmd, []string{"files"}))
	assert.Contains(t, out.String(), "Added plugin server files (stdio)")

	resetPluginFlags()
	pluginURL = "https://mcp.example.com/mcp"
	pluginEnv = []string{"SEARCH_TOKEN"}
	pluginDisabled = true
	require.NoError(t, runPluginsAdd(cmd, []string{"search"}))

	cfgs, err := mcp.LoadServerConfigs(c.ServersFilePath())
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "Files", cfgs[0].Name)
	assert.Equal(t, mcp.ProtocolStdio, cfgs[0].Transport)
	assert.True(t, cfgs[0].Enabled)
	assert.Equal(t, "search", cfgs[1].Name, "name defaults to the id")
	assert.Equal(t, mcp.ProtocolHTTP, cfgs[1].Transport)
	assert.Equal(t, []string{"SEARCH_TOKEN"}, cfgs[1].EnvVarNames)
	assert.False(t, cfgs[1].Enabled)

	resetPluginFlags()
	pluginCommand = "other"
	err = runPluginsAdd(cmd, []string{"files"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out.Reset()
	require.NoError(t, runPluginsList(cmd, nil))
	text := out.String()
	assert.Contains(t, text, "npx -y @modelcontextprotocol/server-filesystem")
	assert.Contains(t, text, "https://mcp.example.com/mcp")
	assert.Contains(t, text, "never connected")

	require.NoError(t, setPluginEnabled(cmd, "search", true))
	require.NoError(t, setPluginEnabled(cmd, "files", false))
	cfgs, err = mcp.LoadServerConfigs(c.ServersFilePath())
	require.NoError(t, err)
	assert.False(t, cfgs[0].Enabled)
	assert.True(t, cfgs[1].Enabled)

	assert.Error(t, setPluginEnabled(cmd, "missing", true))

	out.Reset()
	require.NoError(t, runPluginsRemove(cmd, []string{"files"}))
	assert.Contains(t, out.String(), "Removed plugin server files")
	assert.Error(t, runPluginsRemove(cmd, []string{"files"}))

	cfgs, err = mcp.LoadServerConfigs(c.ServersFilePath())
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "search", cfgs[0].ID)
}

func TestPluginsAddValidation(t *testing.T) {
	useTempConfig(t)
	defer resetPluginFlags()
	cmd, _ := newTestCommand()

	resetPluginFlags()
	assert.Error(t, runPluginsAdd(cmd, []string{"empty"}), "stdio needs a command")

	resetPluginFlags()
	pluginCommand = "npx"
	pluginURL = "https://mcp.example.com"
	assert.Error(t, runPluginsAdd(cmd, []string{"both"}))
}

func TestPluginsConnectUnknownServer(t *testing.T) {
	useTempConfig(t)
	cmd, _ := newTestCommand()

	err := runPluginsConnect(cmd, []string{"ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plugin server")
}

func TestPluginsConnectNothingEnabled(t *testing.T) {
	useTempConfig(t)
	cmd, out := newTestCommand()

	require.NoError(t, runPluginsConnect(cmd, nil))
	assert.Contains(t, out.String(), "No enabled plugin servers")
}

func TestDescribeRecord(t *testing.T) {
	assert.Equal(t, "connected (3 tools)", describeRecord(&mcp.ServerRecord{State: mcp.ServerStatusConnected, ToolCount: 3}))
	assert.Equal(t, "error: boom", describeRecord(&mcp.ServerRecord{State: mcp.ServerStatusError, LastError: "boom"}))
	assert.Equal(t, string(mcp.ServerStatusDisconnected), describeRecord(&mcp.ServerRecord{State: mcp.ServerStatusDisconnected}))
}
