package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"adbappmgr/pkg/inventory"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerAppTools registers app management tools
func (s *MCPServer) registerAppTools() {
	// app_refresh - Reload the installed apps from the device
	s.server.AddTool(
		mcp.NewTool("app_refresh",
			mcp.WithDescription("Reload the list of installed applications from the connected device"),
		),
		s.handleAppRefresh,
	)

	// app_list - Search the loaded apps
	s.server.AddTool(
		mcp.NewTool("app_list",
			mcp.WithDescription("List installed applications, optionally filtered by a case-insensitive substring"),
			mcp.WithString("query",
				mcp.Description("Text the package name must contain (e.g., 'google')"),
			),
		),
		s.handleAppList,
	)

	// app_uninstall - Uninstall app for user 0 (DANGEROUS)
	s.server.AddTool(
		mcp.NewTool("app_uninstall",
			mcp.WithDescription("⚠️ Uninstall an application for the current user (requires confirmation)"),
			mcp.WithString("package_name",
				mcp.Required(),
				mcp.Description("Package name to uninstall (e.g., com.example.app)"),
			),
		),
		s.handleAppUninstall,
	)
}

// Tool handlers

func (s *MCPServer) handleAppRefresh(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	packages, err := s.app.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh apps: %w", err)
	}
	return textResult(formatPackages(packages, "")), nil
}

func (s *MCPServer) handleAppList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, _ := args["query"].(string)

	return textResult(formatPackages(s.app.Filter(query), query)), nil
}

func (s *MCPServer) handleAppUninstall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	packageName, ok := args["package_name"].(string)
	if !ok || packageName == "" {
		return nil, fmt.Errorf("package_name is required")
	}
	if err := inventory.ValidatePackageName(packageName); err != nil {
		return nil, err
	}

	if s.app.ConfirmUninstall() {
		confirmed, err := s.confirm(ctx, "Uninstall App",
			fmt.Sprintf("Package: %s\n\nThis will remove the app and its data for the current user!", packageName))
		if err != nil {
			return nil, err
		}
		if !confirmed {
			s.logger.Info().Str("package", packageName).Msg("Uninstall aborted by user")
			return textResult(fmt.Sprintf("Uninstallation of %s was aborted.", packageName)), nil
		}
	}

	outcome, err := s.app.Remove(ctx, packageName)
	if err != nil && !outcome.Removed() {
		if errors.Is(err, inventory.ErrInvalidPackage) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to uninstall %s: %w", packageName, err)
	}

	if !outcome.Removed() {
		result := fmt.Sprintf("Failed to uninstall %s", packageName)
		if out := strings.TrimSpace(outcome.Output); out != "" {
			result += "\n\n" + out
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(result)},
			IsError: true,
		}, nil
	}

	result := fmt.Sprintf("%s uninstalled successfully!", packageName)
	if err != nil {
		result += fmt.Sprintf("\n\nThe app list could not be reloaded: %v", err)
	}
	return textResult(result), nil
}

func formatPackages(packages []string, query string) string {
	if len(packages) == 0 {
		if query != "" {
			return fmt.Sprintf("No packages matching %q", query)
		}
		return "No packages found"
	}

	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Found %d package(s) matching %q:\n\n", len(packages), query)
	} else {
		fmt.Fprintf(&b, "Found %d package(s):\n\n", len(packages))
	}
	for i, p := range packages {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	return b.String()
}
