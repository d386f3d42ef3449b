package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deskagent/internal/config"
	"deskagent/internal/llm"
	"deskagent/internal/logging"
	"deskagent/internal/mcp"
	"deskagent/internal/orchestrator"
	"deskagent/internal/policy"
	"deskagent/internal/router"
	"deskagent/internal/tools"
	"deskagent/internal/tools/builtin"
)

const availabilityProbeTimeout = 3 * time.Second

// app wires the services a command needs. Plugin support is opened on
// demand because most commands never touch it.
type app struct {
	cfg      *config.Config
	registry *tools.Registry
	policy   *policy.Engine
	router   *router.Router
	cloud    llm.Provider
	local    llm.Provider

	store   *mcp.Store
	manager *mcp.Manager
	watcher *mcp.ConfigWatcher
}

func newApp(ctx context.Context, cfg *config.Config, desktop builtin.Desktop) (*app, error) {
	a := &app{cfg: cfg, registry: tools.NewRegistry()}
	if err := builtin.RegisterAll(a.registry, desktop); err != nil {
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}
	a.policy = policy.New(a.registry)

	cloud, err := llm.NewCloudProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cloud = cloud
	a.local = llm.NewLocalProvider(cfg)

	mode, err := router.ParseMode(cfg.Assistant.RoutingMode)
	if err != nil {
		return nil, err
	}
	a.router = router.New(mode, router.AvailabilityFunc(func(p router.Provider) bool {
		return a.available(ctx, p)
	}))
	return a, nil
}

func (a *app) available(ctx context.Context, p router.Provider) bool {
	provider := a.local
	if p == router.ProviderCloud {
		provider = a.cloud
	}
	if provider == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, availabilityProbeTimeout)
	defer cancel()
	return provider.Available(ctx)
}

// openPlugins loads the server list and starts the plugin manager. The
// status store is optional; failing to open it only disables history.
func (a *app) openPlugins(ctx context.Context, watch bool) error {
	if a.manager != nil {
		return nil
	}

	storePath := a.cfg.StorePath()
	if err := os.MkdirAll(filepath.Dir(storePath), 0755); err == nil {
		store, err := mcp.NewStore(storePath)
		if err != nil {
			logging.StoreWarn("Plugin history disabled: %v", err)
		} else {
			a.store = store
		}
	}

	opts := []mcp.ManagerOption{
		mcp.WithTimeouts(a.cfg.GetHandshakeTimeout(), a.cfg.GetRequestTimeout()),
	}
	if a.store != nil {
		opts = append(opts, mcp.WithStore(a.store))
	}
	a.manager = mcp.NewManager(a.registry, opts...)

	cfgs, err := mcp.LoadServerConfigs(a.cfg.ServersFilePath())
	if err != nil {
		return err
	}
	if err := a.manager.SetConfigs(cfgs); err != nil {
		return err
	}

	if watch && a.cfg.MCP.WatchServersFile {
		w, err := mcp.WatchServerConfigs(ctx, a.cfg.ServersFilePath(), a.manager)
		if err != nil {
			logging.MCPWarn("Not watching %s: %v", a.cfg.ServersFilePath(), err)
		} else {
			a.watcher = w
		}
	}
	return nil
}

func (a *app) orchestrator(settings orchestrator.Settings, confirmer orchestrator.Confirmer, status orchestrator.StatusObserver) *orchestrator.Orchestrator {
	deps := orchestrator.Deps{
		Tools:     a.registry,
		Policy:    a.policy,
		Router:    a.router,
		Cloud:     a.cloud,
		Local:     a.local,
		Confirmer: confirmer,
		Status:    status,
	}
	if a.manager != nil {
		deps.Plugins = a.manager
	}
	return orchestrator.New(deps, settings)
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.manager != nil {
		a.manager.DisconnectAll()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.StoreWarn("Failed to close plugin store: %v", err)
		}
	}
}
