package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskagent/internal/tools"
	"deskagent/internal/types"
)

// fakeFleet hands out in-memory transports, one fakeServer per server id.
type fakeFleet struct {
	mu      sync.Mutex
	servers map[string]*fakeServer
	failing map[string]bool
	calls   map[string]int
	secrets map[string]map[string]string
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		servers: map[string]*fakeServer{},
		failing: map[string]bool{},
		calls:   map[string]int{},
		secrets: map[string]map[string]string{},
	}
}

func (f *fakeFleet) server(id string) *fakeServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[id]
	if !ok {
		s = newFakeServer()
		f.servers[id] = s
	}
	return s
}

func (f *fakeFleet) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFleet) factory(cfg ServerConfig, secrets map[string]string) (Transport, error) {
	server := f.server(cfg.ID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[cfg.ID]++
	f.secrets[cfg.ID] = secrets
	tr := newMemTransport(server)
	if f.failing[cfg.ID] {
		tr.startErr = errors.New("spawn failed")
	}
	return tr, nil
}

func stdioConfig(id, name string) ServerConfig {
	return ServerConfig{ID: id, Name: name, Transport: ProtocolStdio, Command: "fake-" + id, Enabled: true}
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *tools.Registry, *fakeFleet) {
	t.Helper()
	reg := tools.NewRegistry()
	fleet := newFakeFleet()
	opts = append([]ManagerOption{
		WithTransportFactory(fleet.factory),
		WithTimeouts(2*time.Second, 2*time.Second),
	}, opts...)
	m := NewManager(reg, opts...)
	t.Cleanup(m.DisconnectAll)
	return m, reg, fleet
}

func TestToolRegistryID(t *testing.T) {
	tests := []struct {
		server, tool string
		want         string
	}{
		{"My Server", "get_data", "mcp__my_server__get_data"},
		{"filesystem", "read_file", "mcp__filesystem__read_file"},
		{"  GitHub  ", "Create-Issue", "mcp__github__createissue"},
		{"Café Tools", "list.items", "mcp__caf_tools__listitems"},
		{"a\tb", "x y", "mcp__a_b__x_y"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToolRegistryID(tt.server, tt.tool), "%q/%q", tt.server, tt.tool)
	}
}

func TestManagerConnectRegistersTools(t *testing.T) {
	m, reg, _ := newTestManager(t)
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "My Server")}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))

	status := m.Status("fs")
	assert.Equal(t, ServerStatusConnected, status.State)
	assert.Equal(t, 2, status.ToolCount)
	assert.ElementsMatch(t, []string{"mcp__my_server__echo", "mcp__my_server__delete_file"}, m.ToolIDs("fs"))

	echo, ok := reg.Definition("mcp__my_server__echo")
	require.True(t, ok)
	assert.Equal(t, types.RiskSafe, echo.RiskLevel)
	assert.Equal(t, types.SourcePlugin, echo.Source)
	assert.Equal(t, "Echo the text argument", echo.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`, string(echo.InputSchema))

	del, ok := reg.Definition("mcp__my_server__delete_file")
	require.True(t, ok)
	assert.Equal(t, types.RiskDangerous, del.RiskLevel)
	assert.Equal(t, "Delete File", del.DisplayName)
	assert.Equal(t, []string{"filesystem"}, del.RequiredCapabilities)

	args, err := types.ArgsFromMap(map[string]any{"text": "hello"})
	require.NoError(t, err)
	res := reg.Execute(ctx, types.ToolCall{ToolID: "mcp__my_server__echo", Arguments: args})
	assert.True(t, res.Success)
	assert.Equal(t, "hello", res.Message)

	// The server refuses delete_file; the failure comes back as a result.
	res = reg.Execute(ctx, types.ToolCall{ToolID: "mcp__my_server__delete_file"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown tool: delete_file")

	require.NoError(t, m.Disconnect("fs"))
	assert.False(t, reg.Has("mcp__my_server__echo"))
	assert.False(t, reg.Has("mcp__my_server__delete_file"))
	assert.Equal(t, ServerStatusDisconnected, m.Status("fs").State)
	assert.Nil(t, m.ToolIDs("fs"))

	_, err = m.CallTool(ctx, "fs", "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	m, reg, fleet := newTestManager(t)
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "fs")}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))
	require.NoError(t, m.Connect(ctx, "fs"))
	assert.Equal(t, 1, fleet.callCount("fs"))
	assert.Equal(t, 2, reg.Count())
}

func TestManagerConnectFailure(t *testing.T) {
	var mu sync.Mutex
	var states []ServerStatus
	m, reg, fleet := newTestManager(t, WithStatusHook(func(_ string, st ConnectionStatus) {
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	}))
	fleet.failing["broken"] = true
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("broken", "broken")}))

	err := m.Connect(context.Background(), "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)

	status := m.Status("broken")
	assert.Equal(t, ServerStatusError, status.State)
	assert.Contains(t, status.Message, "spawn failed")
	assert.Zero(t, reg.Count())

	mu.Lock()
	assert.Equal(t, []ServerStatus{ServerStatusConnecting, ServerStatusError}, states)
	mu.Unlock()

	assert.Error(t, m.Connect(context.Background(), "unknown"))
}

func TestManagerSecrets(t *testing.T) {
	values := map[string]string{"FS_TOKEN": "t0ken"}
	m, _, fleet := newTestManager(t, WithSecretResolver(SecretResolverFunc(func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})))

	withSecret := stdioConfig("fs", "fs")
	withSecret.EnvVarNames = []string{"FS_TOKEN"}
	missing := stdioConfig("gh", "github")
	missing.EnvVarNames = []string{"GITHUB_TOKEN", "FS_TOKEN"}
	require.NoError(t, m.SetConfigs([]ServerConfig{withSecret, missing}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))
	fleet.mu.Lock()
	assert.Equal(t, map[string]string{"FS_TOKEN": "t0ken"}, fleet.secrets["fs"])
	fleet.mu.Unlock()

	err := m.Connect(ctx, "gh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret not set: GITHUB_TOKEN")
	assert.Equal(t, ServerStatusError, m.Status("gh").State)
	assert.Zero(t, fleet.callCount("gh"), "no transport is built without its secrets")
}

func TestManagerRefreshOnListChanged(t *testing.T) {
	m, reg, _ := newTestManager(t)
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "fs")}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))
	require.True(t, reg.Has("mcp__fs__echo"))

	res, err := m.CallTool(ctx, "fs", "change_tools", nil)
	require.NoError(t, err)
	assert.Equal(t, "changed", res.Text())

	assert.Eventually(t, func() bool {
		return reg.Has("mcp__fs__fresh_tool") && !reg.Has("mcp__fs__echo")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return m.Status("fs").ToolCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"mcp__fs__fresh_tool"}, m.ToolIDs("fs"))
}

// gatedRegistry blocks Register while armed so a test can interleave work
// with an in-progress registration.
type gatedRegistry struct {
	*tools.Registry

	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRegistry) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
}

func (g *gatedRegistry) Register(def types.ToolDefinition, exec tools.Executor) error {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	entered, release := g.entered, g.release
	g.mu.Unlock()
	if armed {
		close(entered)
		<-release
	}
	return g.Registry.Register(def, exec)
}

func TestManagerDisconnectDuringRefresh(t *testing.T) {
	reg := &gatedRegistry{Registry: tools.NewRegistry()}
	fleet := newFakeFleet()
	m := NewManager(reg, WithTransportFactory(fleet.factory), WithTimeouts(2*time.Second, 2*time.Second))
	t.Cleanup(m.DisconnectAll)
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "fs")}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))
	require.Equal(t, 2, reg.Count())

	reg.arm()
	refreshed := make(chan error, 1)
	go func() { refreshed <- m.RefreshTools(ctx, "fs") }()
	<-reg.entered

	disconnected := make(chan error, 1)
	go func() { disconnected <- m.Disconnect("fs") }()

	// Disconnect waits for the refresh that is registering tools.
	select {
	case <-disconnected:
		t.Fatal("disconnect finished while a refresh was registering tools")
	case <-time.After(50 * time.Millisecond):
	}
	close(reg.release)

	require.NoError(t, <-refreshed)
	require.NoError(t, <-disconnected)
	assert.Equal(t, ServerStatusDisconnected, m.Status("fs").State)
	assert.Empty(t, reg.IDs())
	assert.Empty(t, m.ToolIDs("fs"))
}

func TestManagerOverlappingRefreshes(t *testing.T) {
	m, reg, _ := newTestManager(t)
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "fs")}))
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RefreshTools(ctx, "fs"))
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"mcp__fs__echo", "mcp__fs__delete_file"}, reg.IDs())
	assert.ElementsMatch(t, reg.IDs(), m.ToolIDs("fs"))

	require.NoError(t, m.Disconnect("fs"))
	assert.Zero(t, reg.Count())
}

func TestManagerConnectAllEnabled(t *testing.T) {
	m, reg, fleet := newTestManager(t)
	off := stdioConfig("off", "off")
	off.Enabled = false
	fleet.failing["bad"] = true
	require.NoError(t, m.SetConfigs([]ServerConfig{
		stdioConfig("one", "one"),
		stdioConfig("two", "two"),
		off,
		stdioConfig("bad", "bad"),
	}))

	err := m.ConnectAllEnabled(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad:")
	assert.ErrorIs(t, err, ErrConnectionFailed)

	statuses := m.Statuses()
	assert.Equal(t, ServerStatusConnected, statuses["one"].State)
	assert.Equal(t, ServerStatusConnected, statuses["two"].State)
	assert.Equal(t, ServerStatusDisconnected, statuses["off"].State)
	assert.Equal(t, ServerStatusError, statuses["bad"].State)
	assert.Zero(t, fleet.callCount("off"))
	assert.Equal(t, 4, reg.Count())

	// Only the failed server is retried.
	fleet.mu.Lock()
	fleet.failing["bad"] = false
	fleet.mu.Unlock()
	require.NoError(t, m.ConnectAllEnabled(context.Background()))
	assert.Equal(t, 1, fleet.callCount("one"))
	assert.Equal(t, 2, fleet.callCount("bad"))
	assert.Equal(t, 6, reg.Count())
}

func TestManagerReload(t *testing.T) {
	m, reg, fleet := newTestManager(t)
	a, b, c := stdioConfig("a", "alpha"), stdioConfig("b", "beta"), stdioConfig("c", "gamma")
	require.NoError(t, m.SetConfigs([]ServerConfig{a, b, c}))
	require.NoError(t, m.ConnectAllEnabled(context.Background()))
	require.Equal(t, 6, reg.Count())

	b.Args = []string{"--verbose"}
	require.NoError(t, m.Reload(context.Background(), []ServerConfig{a, b}))

	assert.Equal(t, 1, fleet.callCount("a"))
	assert.Equal(t, 2, fleet.callCount("b"))
	assert.Equal(t, 1, fleet.callCount("c"))

	statuses := m.Statuses()
	assert.Len(t, statuses, 2)
	assert.Equal(t, ServerStatusConnected, statuses["b"].State)
	assert.False(t, reg.Has("mcp__gamma__echo"))
	assert.True(t, reg.Has("mcp__beta__echo"))

	cfg, ok := m.Config("b")
	require.True(t, ok)
	assert.Equal(t, []string{"--verbose"}, cfg.Args)

	a.Enabled = false
	require.NoError(t, m.Reload(context.Background(), []ServerConfig{a, b}))
	assert.Equal(t, ServerStatusDisconnected, m.Status("a").State)
	assert.False(t, reg.Has("mcp__alpha__echo"))
	assert.Equal(t, 2, reg.Count())

	// Newly added and re-enabled servers are connected by the reload.
	a.Enabled = true
	d := stdioConfig("d", "delta")
	require.NoError(t, m.Reload(context.Background(), []ServerConfig{a, b, d}))
	assert.Equal(t, ServerStatusConnected, m.Status("a").State)
	assert.Equal(t, ServerStatusConnected, m.Status("d").State)
	assert.True(t, reg.Has("mcp__delta__echo"))
	assert.Equal(t, 6, reg.Count())
	assert.Equal(t, 1, fleet.callCount("d"))
}

func TestManagerConfigs(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.AddConfig(stdioConfig("b", "b")))
	require.NoError(t, m.AddConfig(stdioConfig("a", "a")))
	assert.Error(t, m.AddConfig(stdioConfig("a", "again")))
	assert.Error(t, m.AddConfig(ServerConfig{ID: "x", Name: "x", Transport: ProtocolHTTP}))

	ids := []string{}
	for _, cfg := range m.Configs() {
		ids = append(ids, cfg.ID)
	}
	assert.Equal(t, []string{"b", "a"}, ids)

	assert.Error(t, m.SetConfigs([]ServerConfig{stdioConfig("a", "a"), stdioConfig("a", "b")}))

	require.NoError(t, m.RemoveConfig("b"))
	assert.Error(t, m.RemoveConfig("b"))
	_, ok := m.Config("b")
	assert.False(t, ok)
	assert.Error(t, m.Disconnect("nobody"))
}

func TestManagerStore(t *testing.T) {
	store := newTestStore(t)
	m, reg, _ := newTestManager(t, WithStore(store))
	require.NoError(t, m.SetConfigs([]ServerConfig{stdioConfig("fs", "fs")}))

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "fs"))

	rec, err := store.Server(ctx, "fs")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ServerStatusConnected, rec.State)
	assert.Equal(t, 2, rec.ToolCount)
	assert.False(t, rec.LastConnected.IsZero())

	args, err := types.ArgsFromMap(map[string]any{"text": "x"})
	require.NoError(t, err)
	reg.Execute(ctx, types.ToolCall{ToolID: "mcp__fs__echo", Arguments: args})

	tool, err := store.Tool(ctx, "mcp__fs__echo")
	require.NoError(t, err)
	require.NotNil(t, tool)
	assert.EqualValues(t, 1, tool.UsageCount)
	assert.EqualValues(t, 1, tool.SuccessCount)

	toolsByServer, err := store.ToolsByServer(ctx, "fs")
	require.NoError(t, err)
	assert.Len(t, toolsByServer, 2)

	require.NoError(t, m.RemoveConfig("fs"))
	rec, err = store.Server(ctx, "fs")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestDefaultTransport(t *testing.T) {
	tr, err := DefaultTransport(stdioConfig("fs", "fs"), map[string]string{"K": "v"})
	require.NoError(t, err)
	stdio, ok := tr.(*StdioTransport)
	require.True(t, ok)
	assert.Equal(t, "fake-fs", stdio.command)
	assert.Equal(t, map[string]string{"K": "v"}, stdio.env)

	remote := ServerConfig{
		ID: "r", Name: "remote", Transport: ProtocolHTTP,
		URL: "https://plugins.example.com/mcp", EnvVarNames: []string{"REMOTE_TOKEN"},
	}
	tr, err = DefaultTransport(remote, map[string]string{"REMOTE_TOKEN": "abc"})
	require.NoError(t, err)
	httpTr, ok := tr.(*HTTPTransport)
	require.True(t, ok)
	assert.Equal(t, "abc", httpTr.token)

	_, err = DefaultTransport(ServerConfig{Transport: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
