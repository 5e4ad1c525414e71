// Package inventory keeps the list of applications installed on the connected
// device and answers search and uninstall requests against it.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"adbappmgr/pkg/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidPackage is returned before any adb call when a package name is unsafe
var ErrInvalidPackage = errors.New("invalid package name")

// successMarker is what pm prints on a completed uninstall
const successMarker = "Success"

var (
	argsDevices   = []string{"devices"}
	argsModel     = []string{"shell", "getprop", "ro.product.model"}
	argsPackages  = []string{"shell", "pm", "list", "packages"}
	argsUninstall = []string{"shell", "pm", "uninstall", "--user", "0"}
)

// Runner executes adb with the given arguments and returns its stdout.
// *bridge.Client satisfies it.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Manager owns the canonical package inventory and the last-known device.
// All state is behind mu; accessors hand out copies.
type Manager struct {
	runner Runner
	logger zerolog.Logger

	mu       sync.RWMutex
	packages []string
	device   *types.DeviceDescriptor
	syncedAt time.Time
}

// New creates a manager with an empty inventory
func New(runner Runner, logger zerolog.Logger) *Manager {
	return &Manager{
		runner:   runner,
		logger:   logger.With().Str("module", "inventory").Logger(),
		packages: []string{},
	}
}

func newOpID() string {
	return uuid.New().String()[:8]
}

// CheckConnection looks for a connected device. When one is found its model is
// read, it becomes the last-known device and the inventory is refreshed; the
// descriptor is returned even if that refresh fails. Without a device it
// returns nil, forgets the last-known device and leaves the inventory alone.
// A failed model read forgets the device too.
func (m *Manager) CheckConnection(ctx context.Context) (*types.DeviceDescriptor, error) {
	op := newOpID()

	out, err := m.runner.Run(ctx, argsDevices...)
	if err != nil {
		m.logger.Error().Str("op", op).Err(err).Msg("Failed to list devices")
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	serial, ok := parseDeviceLine(out)
	if !ok {
		m.mu.Lock()
		m.device = nil
		m.mu.Unlock()
		m.logger.Info().Str("op", op).Msg("No device connected")
		return nil, nil
	}

	modelOut, err := m.runner.Run(ctx, argsModel...)
	if err != nil {
		m.mu.Lock()
		m.device = nil
		m.mu.Unlock()
		m.logger.Error().Str("op", op).Str("serial", serial).Err(err).Msg("Failed to read device model")
		return nil, fmt.Errorf("failed to read device model: %w", err)
	}

	device := &types.DeviceDescriptor{
		Model:  strings.TrimSpace(modelOut),
		Serial: serial,
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	m.logger.Info().
		Str("op", op).
		Str("serial", device.Serial).
		Str("model", device.Model).
		Msg("Device connected")

	result := *device
	if _, err := m.Refresh(ctx); err != nil {
		return &result, err
	}
	return &result, nil
}

// Refresh reloads the package list from the device and replaces the inventory.
// On error the previous inventory stays in place.
func (m *Manager) Refresh(ctx context.Context) ([]string, error) {
	op := newOpID()
	start := time.Now()

	out, err := m.runner.Run(ctx, argsPackages...)
	if err != nil {
		m.logger.Error().Str("op", op).Err(err).Msg("Failed to list packages")
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	// parse fully before swapping so readers never see a partial list
	packages := parsePackages(out)
	if packages == nil {
		packages = []string{}
	}

	m.mu.Lock()
	m.packages = packages
	m.syncedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info().
		Str("op", op).
		Int("count", len(packages)).
		Dur("duration", time.Since(start)).
		Msg("Inventory refreshed")

	return append([]string{}, packages...), nil
}

// Filter returns the inventory entries containing query, ignoring case, in
// inventory order. An empty query returns the whole inventory.
func (m *Manager) Filter(query string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterPackages(m.packages, query)
}

// Remove uninstalls identifier for the current user. pm has no structured
// status, so the outcome is Removed only when its output contains "Success";
// in that case the inventory is refreshed. A failed uninstall is reported in
// the outcome, not as an error.
func (m *Manager) Remove(ctx context.Context, identifier string) (types.RemovalOutcome, error) {
	outcome := types.RemovalOutcome{Package: identifier, Status: types.RemovalFailed}
	if err := ValidatePackageName(identifier); err != nil {
		return outcome, err
	}

	op := newOpID()
	args := append(append([]string{}, argsUninstall...), identifier)

	out, err := m.runner.Run(ctx, args...)
	if err != nil {
		m.logger.Error().Str("op", op).Str("package", identifier).Err(err).Msg("Failed to run uninstall")
		return outcome, fmt.Errorf("failed to uninstall %s: %w", identifier, err)
	}

	if !strings.Contains(out, successMarker) {
		outcome.Output = out
		m.logger.Warn().
			Str("op", op).
			Str("package", identifier).
			Str("output", strings.TrimSpace(out)).
			Msg("Uninstall reported failure")
		return outcome, nil
	}

	outcome.Status = types.RemovalRemoved
	m.logger.Info().Str("op", op).Str("package", identifier).Msg("Package uninstalled")

	if _, err := m.Refresh(ctx); err != nil {
		return outcome, fmt.Errorf("%s removed but refresh failed: %w", identifier, err)
	}
	return outcome, nil
}

// Packages returns a copy of the canonical inventory
func (m *Manager) Packages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.packages...)
}

// Device returns the last-known device, nil when none is connected
func (m *Manager) Device() *types.DeviceDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.device == nil {
		return nil
	}
	d := *m.device
	return &d
}

// Snapshot returns the device and inventory as one consistent view
func (m *Manager) Snapshot() types.Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv := types.Inventory{
		Packages: append([]string{}, m.packages...),
		Total:    len(m.packages),
	}
	if m.device != nil {
		d := *m.device
		inv.Device = &d
	}
	if !m.syncedAt.IsZero() {
		t := m.syncedAt
		inv.SyncedAt = &t
	}
	return inv
}
