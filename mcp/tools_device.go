package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) registerDeviceTools() {
	// device_check - Detect the connected device and load its apps
	s.server.AddTool(
		mcp.NewTool("device_check",
			mcp.WithDescription("Check whether an Android device is connected. When one is, its installed apps are loaded."),
		),
		s.handleDeviceCheck,
	)
}

func (s *MCPServer) handleDeviceCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	device, err := s.app.CheckConnection(ctx)
	if device == nil {
		if err != nil {
			return nil, fmt.Errorf("failed to check device connection: %w", err)
		}
		return textResult("No device connected"), nil
	}

	result := fmt.Sprintf("Device Connected: %s (%s)\n", device.Model, device.Serial)
	if err != nil {
		// device found but the package list could not be read
		result += fmt.Sprintf("\nFailed to load installed apps: %v", err)
		return textResult(result), nil
	}

	snapshot := s.app.Snapshot()
	result += fmt.Sprintf("Installed apps: %d", snapshot.Total)
	return textResult(result), nil
}
