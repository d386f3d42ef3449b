package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"deskagent/internal/logging"
	"deskagent/internal/tools"
	"deskagent/internal/types"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

const (
	toolIDPrefix       = "mcp__"
	maxParallelConnect = 4
)

// ToolRegistry is the part of the tool registry the manager writes to.
type ToolRegistry interface {
	Register(def types.ToolDefinition, exec tools.Executor) error
	Unregister(id string) bool
}

// SecretResolver looks up the value of a declared secret by variable name.
type SecretResolver interface {
	Resolve(name string) (string, bool)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(name string) (string, bool)

// Resolve calls f.
func (f SecretResolverFunc) Resolve(name string) (string, bool) { return f(name) }

// EnvSecrets resolves secrets from the process environment.
var EnvSecrets = SecretResolverFunc(os.LookupEnv)

// TransportFactory builds the transport for a server. secrets holds the
// resolved values of cfg.EnvVarNames.
type TransportFactory func(cfg ServerConfig, secrets map[string]string) (Transport, error)

// StatusHook is told about every status change.
type StatusHook func(serverID string, status ConnectionStatus)

// Manager owns the configured plugin servers, their live clients and
// their status, and keeps the tool registry in sync with what each
// connected server exposes.
type Manager struct {
	mu sync.RWMutex

	registry ToolRegistry
	configs  map[string]ServerConfig
	order    []string
	conns    map[string]*connection
	status   map[string]ConnectionStatus

	secrets          SecretResolver
	newTransport     TransportFactory
	store            *Store
	onStatus         StatusHook
	handshakeTimeout time.Duration
	requestTimeout   time.Duration

	connecting singleflight.Group
	background sync.WaitGroup
}

// connection is one live client. toolsMu serializes tool refresh against
// teardown so registrations never outlive the connection.
type connection struct {
	cfg     ServerConfig
	client  *Client
	toolIDs []string

	toolsMu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSecretResolver sets where declared secrets are read from.
func WithSecretResolver(r SecretResolver) ManagerOption {
	return func(m *Manager) { m.secrets = r }
}

// WithTransportFactory replaces the default stdio/http transports.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) { m.newTransport = f }
}

// WithStore records status changes and tool usage.
func WithStore(s *Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithStatusHook installs a status change callback.
func WithStatusHook(h StatusHook) ManagerOption {
	return func(m *Manager) { m.onStatus = h }
}

// WithTimeouts sets the handshake and per-request timeouts of new clients.
func WithTimeouts(handshake, request time.Duration) ManagerOption {
	return func(m *Manager) {
		m.handshakeTimeout = handshake
		m.requestTimeout = request
	}
}

// NewManager creates a manager that registers plugin tools into registry.
func NewManager(registry ToolRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:         registry,
		configs:          make(map[string]ServerConfig),
		conns:            make(map[string]*connection),
		status:           make(map[string]ConnectionStatus),
		secrets:          EnvSecrets,
		newTransport:     DefaultTransport,
		handshakeTimeout: defaultHandshakeTimeout,
		requestTimeout:   defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultTransport builds a stdio or HTTPS transport from cfg. Stdio
// servers receive their secrets as environment variables; HTTP servers
// send the first declared secret as a bearer token.
func DefaultTransport(cfg ServerConfig, secrets map[string]string) (Transport, error) {
	switch cfg.Transport {
	case ProtocolStdio:
		return NewStdioTransport(cfg.Command, cfg.Args, secrets), nil
	case ProtocolHTTP:
		var opts []HTTPOption
		if len(cfg.EnvVarNames) > 0 {
			if token := secrets[cfg.EnvVarNames[0]]; token != "" {
				opts = append(opts, WithBearerToken(token))
			}
		}
		return NewHTTPTransport(cfg.URL, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// ToolRegistryID derives the registry id of a plugin tool:
// mcp__<server>__<tool>, each part lower-cased with whitespace turned into
// underscores and anything else that is not a letter, digit or underscore
// dropped.
func ToolRegistryID(serverName, toolName string) string {
	return toolIDPrefix + normalizeName(serverName) + "__" + normalizeName(toolName)
}

func normalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SetConfigs replaces the configured servers. Live connections are left
// alone; use Reload to reconcile them.
func (m *Manager) SetConfigs(cfgs []ServerConfig) error {
	next := make(map[string]ServerConfig, len(cfgs))
	order := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, dup := next[cfg.ID]; dup {
			return fmt.Errorf("duplicate server id %q", cfg.ID)
		}
		next[cfg.ID] = cfg
		order = append(order, cfg.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = next
	m.order = order
	return nil
}

// Configs returns the configured servers in configuration order.
func (m *Manager) Configs() []ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerConfig, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.configs[id])
	}
	return out
}

// Config returns one server's configuration.
func (m *Manager) Config(id string) (ServerConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[id]
	return cfg, ok
}

// AddConfig adds a new server.
func (m *Manager) AddConfig(cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.configs[cfg.ID]; dup {
		return fmt.Errorf("duplicate server id %q", cfg.ID)
	}
	m.configs[cfg.ID] = cfg
	m.order = append(m.order, cfg.ID)
	return nil
}

// RemoveConfig disconnects and forgets a server.
func (m *Manager) RemoveConfig(id string) error {
	m.mu.RLock()
	_, ok := m.configs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown MCP server: %s", id)
	}

	_ = m.Disconnect(id)

	m.mu.Lock()
	delete(m.configs, id)
	delete(m.status, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteServer(context.Background(), id); err != nil {
			logging.StoreWarn("Failed to delete server %s from store: %v", id, err)
		}
	}
	return nil
}

// Connect establishes connection to a specific MCP server, discovers its
// tools and registers them. Failures are recorded in the server's status.
// Concurrent calls for the same server share one attempt.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	m.mu.RLock()
	cfg, ok := m.configs[serverID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown MCP server: %s", serverID)
	}

	_, err, _ := m.connecting.Do(serverID, func() (any, error) {
		return nil, m.connect(ctx, cfg)
	})
	return err
}

func (m *Manager) connect(ctx context.Context, cfg ServerConfig) error {
	m.mu.RLock()
	conn, exists := m.conns[cfg.ID]
	m.mu.RUnlock()
	if exists && conn.client.IsConnected() {
		return nil
	}
	if exists {
		m.teardown(cfg.ID)
	}

	m.setStatus(cfg, ConnectionStatus{State: ServerStatusConnecting})

	fail := func(err error) error {
		m.setStatus(cfg, ConnectionStatus{State: ServerStatusError, Message: err.Error()})
		logging.MCPWarn("Failed to connect to MCP server %s: %v", cfg.ID, err)
		return err
	}

	secrets, err := m.resolveSecrets(cfg)
	if err != nil {
		return fail(err)
	}
	transport, err := m.newTransport(cfg, secrets)
	if err != nil {
		return fail(newError(KindConnectionFailed, err, "creating transport for %s", cfg.Name))
	}

	client := NewClient(cfg.Name, transport,
		WithHandshakeTimeout(m.handshakeTimeout),
		WithRequestTimeout(m.requestTimeout),
		WithNotificationHandler(m.notificationHandler(cfg.ID)),
	)
	if err := client.Connect(ctx); err != nil {
		return fail(err)
	}

	schemas, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return fail(err)
	}

	ids := m.registerTools(cfg, schemas)

	m.mu.Lock()
	m.conns[cfg.ID] = &connection{cfg: cfg, client: client, toolIDs: ids}
	m.mu.Unlock()

	m.setStatus(cfg, ConnectionStatus{State: ServerStatusConnected, ToolCount: len(ids)})
	m.saveTools(cfg.ID, ids, schemas, cfg)

	info := client.ServerInfo()
	logging.MCP("Connected to MCP server %s (%s %s) with %d tools", cfg.ID, info.Name, info.Version, len(ids))
	return nil
}

func (m *Manager) resolveSecrets(cfg ServerConfig) (map[string]string, error) {
	if len(cfg.EnvVarNames) == 0 {
		return nil, nil
	}
	secrets := make(map[string]string, len(cfg.EnvVarNames))
	var missing []string
	for _, name := range cfg.EnvVarNames {
		v, ok := m.secrets.Resolve(name)
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		secrets[name] = v
	}
	if len(missing) > 0 {
		return nil, newError(KindConnectionFailed, nil, "secret not set: %s", strings.Join(missing, ", "))
	}
	return secrets, nil
}

// registerTools adds a server's tools to the registry and returns the ids
// that were registered.
func (m *Manager) registerTools(cfg ServerConfig, schemas []MCPToolSchema) []string {
	ids := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		def := pluginDefinition(cfg, schema)
		if err := m.registry.Register(def, m.pluginExecutor(cfg.ID, def.ID, schema.Name)); err != nil {
			logging.MCPWarn("Skipping tool %s from %s: %v", schema.Name, cfg.ID, err)
			continue
		}
		ids = append(ids, def.ID)
	}
	return ids
}

func (m *Manager) unregisterTools(ids []string) {
	for _, id := range ids {
		m.registry.Unregister(id)
	}
}

func pluginDefinition(cfg ServerConfig, schema MCPToolSchema) types.ToolDefinition {
	display := schema.Name
	if schema.Annotations.Title != "" {
		display = schema.Annotations.Title
	}
	desc := schema.Description
	if desc == "" {
		desc = fmt.Sprintf("%s tool from %s", schema.Name, cfg.Name)
	}
	return types.ToolDefinition{
		ID:                   ToolRegistryID(cfg.Name, schema.Name),
		DisplayName:          display,
		Description:          desc,
		RiskLevel:            riskFromAnnotations(schema.Annotations),
		RequiredCapabilities: inferCapabilities(schema),
		Source:               types.SourcePlugin,
		InputSchema:          schema.InputSchema,
	}
}

// riskFromAnnotations maps tool hints onto a tier. Without hints a plugin
// tool is treated as caution.
func riskFromAnnotations(a mcpproto.ToolAnnotation) types.RiskLevel {
	switch {
	case a.DestructiveHint != nil && *a.DestructiveHint:
		return types.RiskDangerous
	case a.ReadOnlyHint != nil && *a.ReadOnlyHint:
		return types.RiskSafe
	default:
		return types.RiskCaution
	}
}

func (m *Manager) pluginExecutor(serverID, toolID, toolName string) tools.Executor {
	return tools.ExecutorFunc(func(ctx context.Context, args types.Args) types.ToolExecutionResult {
		start := time.Now()
		res, err := m.CallTool(ctx, serverID, toolName, args.ToMap())
		latency := time.Since(start).Milliseconds()

		var out types.ToolExecutionResult
		switch {
		case err != nil:
			out = types.Failed("%s failed: %v", toolName, err)
		case res.IsError:
			out = types.ToolExecutionResult{Success: false, Message: res.Text()}
			if out.Message == "" {
				out.Message = fmt.Sprintf("%s reported an error", toolName)
			}
		default:
			out = types.Succeeded(res.Text())
		}

		m.recordUsage(toolID, out.Success, latency)
		return out
	})
}

// notificationHandler reacts to server notifications. It runs while the
// client holds its request lock, so any follow-up request is made on a
// separate goroutine.
func (m *Manager) notificationHandler(serverID string) NotificationHandler {
	return func(method string, _ json.RawMessage) {
		if method != mcpproto.MethodNotificationToolsListChanged {
			return
		}
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			if err := m.RefreshTools(context.Background(), serverID); err != nil {
				logging.MCPWarn("Failed to refresh tools of %s: %v", serverID, err)
			}
		}()
	}
}

// RefreshTools re-runs discovery on a connected server and replaces its
// registered tools.
func (m *Manager) RefreshTools(ctx context.Context, serverID string) error {
	m.mu.RLock()
	conn, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok {
		return newError(KindNotConnected, nil, "server %s", serverID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	schemas, err := conn.client.ListTools(ctx)
	if err != nil {
		return err
	}

	conn.toolsMu.Lock()
	defer conn.toolsMu.Unlock()
	if !m.isLive(serverID, conn) {
		return nil
	}

	m.unregisterTools(conn.toolIDs)
	ids := m.registerTools(conn.cfg, schemas)

	m.mu.Lock()
	live := m.conns[serverID] == conn
	if live {
		conn.toolIDs = ids
	}
	m.mu.Unlock()
	if !live {
		// Torn down while registering; teardown is waiting on toolsMu.
		m.unregisterTools(ids)
		return nil
	}

	m.setStatus(conn.cfg, ConnectionStatus{State: ServerStatusConnected, ToolCount: len(ids)})
	m.saveTools(serverID, ids, schemas, conn.cfg)
	logging.MCP("Refreshed tools of %s: %d registered", serverID, len(ids))
	return nil
}

func (m *Manager) isLive(serverID string, conn *connection) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[serverID] == conn
}

// Disconnect closes the server's client, unregisters its tools and marks
// it disconnected.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.RLock()
	cfg, known := m.configs[serverID]
	_, connected := m.conns[serverID]
	m.mu.RUnlock()
	if !known && !connected {
		return fmt.Errorf("unknown MCP server: %s", serverID)
	}

	conn := m.teardown(serverID)
	if conn != nil {
		cfg = conn.cfg
	}
	m.setStatus(cfg, ConnectionStatus{State: ServerStatusDisconnected})
	logging.MCP("Disconnected from MCP server %s", serverID)
	return nil
}

// teardown removes the live connection, if any, and releases it.
func (m *Manager) teardown(serverID string) *connection {
	m.mu.Lock()
	conn, ok := m.conns[serverID]
	delete(m.conns, serverID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	conn.toolsMu.Lock()
	m.mu.Lock()
	ids := conn.toolIDs
	conn.toolIDs = nil
	m.mu.Unlock()
	m.unregisterTools(ids)
	conn.toolsMu.Unlock()

	if err := conn.client.Close(); err != nil {
		logging.MCPWarn("Error closing %s: %v", serverID, err)
	}
	return conn
}

// ConnectAllEnabled connects every enabled server that is not yet
// connected, a few at a time. Individual failures are recorded as status
// and joined into the returned error.
func (m *Manager) ConnectAllEnabled(ctx context.Context) error {
	var pending []string
	m.mu.RLock()
	for _, id := range m.order {
		if !m.configs[id].Enabled {
			continue
		}
		if conn, ok := m.conns[id]; ok && conn.client.IsConnected() {
			continue
		}
		pending = append(pending, id)
	}
	m.mu.RUnlock()

	if len(pending) == 0 {
		return nil
	}

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelConnect)
	for _, id := range pending {
		g.Go(func() error {
			if err := m.Connect(gctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DisconnectAll closes all server connections.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			logging.MCPWarn("Error disconnecting from %s: %v", id, err)
		}
	}
	m.background.Wait()
}

// Reload applies a new server list: servers that were removed, disabled
// or changed are disconnected, changed servers that are still enabled are
// connected again, and servers that are new or newly enabled are connected.
func (m *Manager) Reload(ctx context.Context, cfgs []ServerConfig) error {
	next := make(map[string]ServerConfig, len(cfgs))
	for _, cfg := range cfgs {
		next[cfg.ID] = cfg
	}

	m.mu.RLock()
	var stale, reconnect []string
	for id, conn := range m.conns {
		cfg, ok := next[id]
		switch {
		case !ok || !cfg.Enabled:
			stale = append(stale, id)
		case !sameConfig(conn.cfg, cfg):
			stale = append(stale, id)
			reconnect = append(reconnect, id)
		}
	}
	var added []string
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		if _, live := m.conns[cfg.ID]; live {
			continue
		}
		if prev, ok := m.configs[cfg.ID]; ok && prev.Enabled {
			continue
		}
		added = append(added, cfg.ID)
	}
	m.mu.RUnlock()

	for _, id := range stale {
		_ = m.Disconnect(id)
	}
	if err := m.SetConfigs(cfgs); err != nil {
		return err
	}

	m.mu.Lock()
	for id := range m.status {
		if _, ok := next[id]; !ok {
			delete(m.status, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range append(reconnect, added...) {
		if err := m.Connect(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	logging.MCP("Reloaded server configuration: %d servers, %d disconnected, %d reconnected, %d added",
		len(cfgs), len(stale), len(reconnect), len(added))
	return errors.Join(errs...)
}

func sameConfig(a, b ServerConfig) bool {
	return a.Name == b.Name &&
		a.Transport == b.Transport &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		a.Enabled == b.Enabled &&
		slices.Equal(a.Args, b.Args) &&
		slices.Equal(a.EnvVarNames, b.EnvVarNames)
}

// CallTool invokes a tool on a connected server.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*MCPCallResult, error) {
	m.mu.RLock()
	conn, ok := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || !conn.client.IsConnected() {
		return nil, newError(KindNotConnected, nil, "MCP server %s", serverID)
	}
	return conn.client.CallTool(ctx, toolName, args)
}

// Status returns the server's current status; unknown servers report
// disconnected.
func (m *Manager) Status(serverID string) ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.status[serverID]; ok {
		return st
	}
	return ConnectionStatus{State: ServerStatusDisconnected}
}

// Statuses returns the status of every configured server.
func (m *Manager) Statuses() map[string]ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ConnectionStatus, len(m.configs))
	for id := range m.configs {
		st, ok := m.status[id]
		if !ok {
			st = ConnectionStatus{State: ServerStatusDisconnected}
		}
		out[id] = st
	}
	return out
}

// ToolIDs returns the registry ids contributed by a connected server.
func (m *Manager) ToolIDs(serverID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn, ok := m.conns[serverID]; ok {
		return append([]string(nil), conn.toolIDs...)
	}
	return nil
}

// setStatus is the only writer of server status.
func (m *Manager) setStatus(cfg ServerConfig, status ConnectionStatus) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	m.status[cfg.ID] = status
	hook := m.onStatus
	m.mu.Unlock()

	logging.MCPDebug("server %s: %s", cfg.ID, status)
	logging.Audit().PluginStatus(cfg.ID, string(status.State), status.ToolCount, status.Message)

	if hook != nil {
		hook(cfg.ID, status)
	}
	if m.store != nil {
		if err := m.store.RecordStatus(context.Background(), cfg, status); err != nil {
			logging.StoreDebug("Failed to record status of %s: %v", cfg.ID, err)
		}
	}
}

func (m *Manager) saveTools(serverID string, ids []string, schemas []MCPToolSchema, cfg ServerConfig) {
	if m.store == nil {
		return
	}
	registered := make(map[string]bool, len(ids))
	for _, id := range ids {
		registered[id] = true
	}
	records := make([]ToolRecord, 0, len(ids))
	for _, schema := range schemas {
		id := ToolRegistryID(cfg.Name, schema.Name)
		if !registered[id] {
			continue
		}
		records = append(records, ToolRecord{ToolID: id, Name: schema.Name, Description: schema.Description})
	}
	if err := m.store.SaveTools(context.Background(), serverID, records); err != nil {
		logging.StoreDebug("Failed to save tools of %s: %v", serverID, err)
	}
}

func (m *Manager) recordUsage(toolID string, success bool, latencyMs int64) {
	if m.store == nil {
		return
	}
	if err := m.store.RecordToolUsage(context.Background(), toolID, success, latencyMs); err != nil {
		logging.StoreDebug("Failed to record tool usage: %v", err)
	}
}
