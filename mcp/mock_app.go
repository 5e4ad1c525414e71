package mcp

import (
	"context"
	"errors"
	"sync"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockInventoryApp is a mock implementation of InventoryApp for testing
type MockInventoryApp struct {
	mu    sync.Mutex
	Calls []MockCall

	CheckConnectionResult *DeviceDescriptor
	CheckConnectionError  error
	RefreshResult         []string
	RefreshError          error
	FilterResult          []string
	RemoveResult          RemovalOutcome
	RemoveError           error
	SnapshotResult        Inventory

	ConfirmUninstallResult bool
	AppVersion             string
}

// NewMockInventoryApp creates a new MockInventoryApp with sensible defaults
func NewMockInventoryApp() *MockInventoryApp {
	return &MockInventoryApp{
		Calls:                  make([]MockCall, 0),
		AppVersion:             "1.0.0-test",
		RefreshResult:          []string{},
		FilterResult:           []string{},
		SnapshotResult:         Inventory{Packages: []string{}},
		ConfirmUninstallResult: true,
	}
}

// recordCall records a method call
func (m *MockInventoryApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetLastCall returns the last recorded call
func (m *MockInventoryApp) GetLastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// WasMethodCalled checks if a method was called
func (m *MockInventoryApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.Calls {
		if call.Method == method {
			return true
		}
	}
	return false
}

func (m *MockInventoryApp) CheckConnection(ctx context.Context) (*DeviceDescriptor, error) {
	m.recordCall("CheckConnection")
	return m.CheckConnectionResult, m.CheckConnectionError
}

func (m *MockInventoryApp) Refresh(ctx context.Context) ([]string, error) {
	m.recordCall("Refresh")
	return m.RefreshResult, m.RefreshError
}

func (m *MockInventoryApp) Filter(query string) []string {
	m.recordCall("Filter", query)
	return m.FilterResult
}

func (m *MockInventoryApp) Remove(ctx context.Context, packageName string) (RemovalOutcome, error) {
	m.recordCall("Remove", packageName)
	return m.RemoveResult, m.RemoveError
}

func (m *MockInventoryApp) Snapshot() Inventory {
	m.recordCall("Snapshot")
	return m.SnapshotResult
}

func (m *MockInventoryApp) ConfirmUninstall() bool {
	m.recordCall("ConfirmUninstall")
	return m.ConfirmUninstallResult
}

func (m *MockInventoryApp) GetAppVersion() string {
	m.recordCall("GetAppVersion")
	return m.AppVersion
}

// Common errors for testing
var (
	ErrDeviceOffline = errors.New("device offline")
	ErrAdbNotFound   = errors.New("adb not found")
)

// SampleDevice returns a sample device for testing
func SampleDevice(serial string) *DeviceDescriptor {
	return &DeviceDescriptor{
		Model:  "Pixel 6",
		Serial: serial,
	}
}
