// Package mcp exposes the app inventory over the Model Context Protocol so an
// MCP client (Claude Desktop, an IDE agent, ...) can act as the UI shell.
package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"adbappmgr/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Type aliases from shared types package
type (
	DeviceDescriptor = types.DeviceDescriptor
	RemovalOutcome   = types.RemovalOutcome
	Inventory        = types.Inventory
)

// InventoryApp is what the MCP server needs from the main application.
// It mirrors the inventory manager's public contract and nothing else.
type InventoryApp interface {
	CheckConnection(ctx context.Context) (*DeviceDescriptor, error)
	Refresh(ctx context.Context) ([]string, error)
	Filter(query string) []string
	Remove(ctx context.Context, packageName string) (RemovalOutcome, error)
	Snapshot() Inventory

	// ConfirmUninstall reports whether uninstalls need user confirmation
	ConfirmUninstall() bool
	GetAppVersion() string
}

// confirmFunc asks the user to approve a dangerous operation
type confirmFunc func(ctx context.Context, operation, details string) (bool, error)

// MCPServer wraps the MCP server and routes tool calls to the app
type MCPServer struct {
	app       InventoryApp
	server    *server.MCPServer
	stdio     *server.StdioServer
	logger    zerolog.Logger
	confirm   confirmFunc
	in        io.Reader
	out       io.Writer
	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewMCPServer creates a new MCP server
func NewMCPServer(app InventoryApp, logger zerolog.Logger) *MCPServer {
	mcpServer := server.NewMCPServer(
		"adb-app-manager",
		app.GetAppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithElicitation(), // uninstall asks for confirmation
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
		logger: logger.With().Str("module", "mcp").Logger(),
		in:     os.Stdin,
		out:    os.Stdout,
	}
	s.confirm = s.requestConfirmation

	s.registerTools()
	s.registerResources()

	return s
}

func (s *MCPServer) registerTools() {
	s.registerDeviceTools()
	s.registerAppTools()
}

func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"adbappmgr://device",
			"Last-known connected device",
			mcp.WithMIMEType("application/json"),
		),
		s.handleDeviceResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"adbappmgr://inventory",
			"Installed applications on the connected device",
			mcp.WithMIMEType("application/json"),
		),
		s.handleInventoryResource,
	)
}

// Start serves MCP over stdio and blocks until stdin closes or Stop is called
func (s *MCPServer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.cancel = cancel
	s.mu.Unlock()

	return s.run(ctx)
}

func (s *MCPServer) run(ctx context.Context) error {
	s.stdio = server.NewStdioServer(s.server)

	s.logger.Info().Msg("MCP server started on stdio")
	err := s.stdio.Listen(ctx, s.in, s.out)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("MCP server error")
	}

	s.mu.Lock()
	s.isRunning = false
	s.cancel = nil
	s.mu.Unlock()

	if ctx.Err() != nil {
		s.logger.Info().Msg("MCP server stopped")
		return nil
	}
	return err
}

// Stop ends a running stdio loop. It is a no-op when the server is not running.
func (s *MCPServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.isRunning = false
}

// IsRunning returns whether the MCP server is running
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// requestConfirmation asks the client via elicitation
func (s *MCPServer) requestConfirmation(ctx context.Context, operation, details string) (bool, error) {
	elicitationRequest := mcp.ElicitationRequest{
		Params: mcp.ElicitationParams{
			Message: fmt.Sprintf("⚠️ Dangerous Operation: %s\n\nDetails: %s\n\nDo you want to proceed?", operation, details),
			RequestedSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"confirm": map[string]any{
						"type":        "boolean",
						"description": "Confirm to proceed with this operation",
					},
				},
				"required": []string{"confirm"},
			},
		},
	}

	result, err := s.server.RequestElicitation(ctx, elicitationRequest)
	if err != nil {
		return false, fmt.Errorf("failed to request confirmation: %w", err)
	}

	if result.Action != mcp.ElicitationResponseActionAccept {
		return false, nil
	}

	data, ok := result.Content.(map[string]any)
	if !ok {
		return false, fmt.Errorf("unexpected response format")
	}

	confirm, ok := data["confirm"].(bool)
	if !ok {
		return false, fmt.Errorf("invalid confirmation response")
	}

	return confirm, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
