package main

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"adbappmgr/mcp"
	"adbappmgr/pkg/bridge"
	"adbappmgr/pkg/config"
	"adbappmgr/pkg/inventory"
	"adbappmgr/pkg/types"
)

// AppVersion is reported to MCP clients
const AppVersion = "1.0.0"

var _ mcp.InventoryApp = (*App)(nil)

// Overrides holds command-line values that win over settings.json
type Overrides struct {
	ADBPath    string
	Timeout    time.Duration
	HasTimeout bool
	Debug      bool
	AssumeYes  bool
}

func (o Overrides) apply(s config.Settings) config.Settings {
	if o.ADBPath != "" {
		s.ADB.Path = o.ADBPath
	}
	if o.HasTimeout {
		s.ADB.Timeout = o.Timeout.String()
	}
	if o.Debug {
		s.Log.Level = "debug"
	}
	if o.AssumeYes {
		s.Uninstall.Confirm = false
	}
	return s
}

// App struct
type App struct {
	version   string
	mcpMode   bool
	overrides Overrides

	config  *config.Service
	client  *bridge.Client
	manager *inventory.Manager
	watcher *ConfigWatcher

	mu       sync.RWMutex
	settings config.Settings
}

// NewApp wires the bridge client and inventory manager from settings
func NewApp(cfg *config.Service, overrides Overrides) (*App, error) {
	app := &App{
		version:   AppVersion,
		overrides: overrides,
		config:    cfg,
	}

	settings := overrides.apply(cfg.Settings())
	opts, err := settings.BridgeOptions()
	if err != nil {
		return nil, err
	}

	app.settings = settings
	app.client = bridge.New(opts, Logger)
	app.manager = inventory.New(app.client, Logger)
	SetLogLevel(ParseLogLevel(settings.Log.Level))
	return app, nil
}

// startup is called before the front end starts issuing operations
func (a *App) startup() {
	a.logADBPath()

	if a.mcpMode {
		a.watcher = NewConfigWatcher(a)
		if err := a.watcher.Start(); err != nil {
			LogWarn("app").Err(err).Msg("Config hot reload disabled")
		}
	}
}

// Shutdown is called when the application is closing
func (a *App) Shutdown() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
}

func (a *App) logADBPath() {
	path := a.client.Options().Path
	if resolved, err := exec.LookPath(path); err == nil {
		LogDebug("app").Str("path", resolved).Msg("Using adb")
	} else {
		LogWarn("app").Str("path", path).Msg("adb not found; operations will fail until it is installed")
	}
}

// reloadSettings re-reads settings.json and applies it to the running app.
// An unreadable file keeps the current settings.
func (a *App) reloadSettings() error {
	if err := a.config.Reload(); err != nil {
		LogWarn("app").Err(err).Msg("Keeping current settings")
		return err
	}
	return a.applySettings(a.config.Settings())
}

func (a *App) applySettings(fileSettings config.Settings) error {
	settings := a.overrides.apply(fileSettings)
	opts, err := settings.BridgeOptions()
	if err != nil {
		return err
	}

	a.client.SetOptions(opts)
	SetLogLevel(ParseLogLevel(settings.Log.Level))

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	LogInfo("app").
		Str("adb", opts.Path).
		Dur("timeout", opts.Timeout).
		Str("level", settings.Log.Level).
		Msg("Settings applied")
	return nil
}

// Settings returns the effective settings
func (a *App) Settings() config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// CheckConnection detects the device and loads its inventory
func (a *App) CheckConnection(ctx context.Context) (*types.DeviceDescriptor, error) {
	timer := StartOperation("app", "check_connection")
	device, err := a.manager.CheckConnection(ctx)
	if err != nil {
		timer.EndWithError(err)
	} else {
		timer.AddDetail("connected", device != nil).End()
	}
	return device, err
}

// Refresh reloads the installed packages
func (a *App) Refresh(ctx context.Context) ([]string, error) {
	timer := StartOperation("app", "refresh")
	packages, err := a.manager.Refresh(ctx)
	if err != nil {
		timer.EndWithError(err)
	} else {
		timer.AddDetail("count", len(packages)).End()
	}
	return packages, err
}

// Filter searches the loaded packages
func (a *App) Filter(query string) []string {
	return a.manager.Filter(query)
}

// Remove uninstalls a package for user 0
func (a *App) Remove(ctx context.Context, packageName string) (types.RemovalOutcome, error) {
	timer := StartOperation("app", "remove").AddDetail("package", packageName)
	outcome, err := a.manager.Remove(ctx, packageName)
	if err != nil {
		timer.EndWithError(err)
	} else {
		timer.AddDetail("status", string(outcome.Status)).End()
	}
	return outcome, err
}

// Snapshot returns the device and inventory as last observed
func (a *App) Snapshot() types.Inventory {
	return a.manager.Snapshot()
}

// ConfirmUninstall reports whether front ends must ask before removing
func (a *App) ConfirmUninstall() bool {
	return a.Settings().Uninstall.Confirm
}

// GetAppVersion returns the application version
func (a *App) GetAppVersion() string {
	return a.version
}
