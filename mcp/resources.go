package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleDeviceResource handles the adbappmgr://device resource.
// It reports the last-known device without running adb.
func (s *MCPServer) handleDeviceResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snapshot := s.app.Snapshot()

	payload := map[string]interface{}{
		"connected": snapshot.Device != nil,
	}
	if snapshot.Device != nil {
		payload["device"] = snapshot.Device
	}

	jsonData, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize device: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// handleInventoryResource handles the adbappmgr://inventory resource
func (s *MCPServer) handleInventoryResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(s.app.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize inventory: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
