package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"adbappmgr/mcp"
	"adbappmgr/pkg/config"
	"adbappmgr/pkg/inventory"
)

const usage = `Usage: adbappmgr [flags] <command> [args]

Commands:
  check                 show the connected device and its installed apps
  list [query]          reload and list installed apps, optionally filtered
  uninstall <package>   remove an app for the current user

Use -init-config to write the effective settings to settings.json.

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is main without the process exit, returning the exit status
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adbappmgr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	configDir := fs.String("config", "", "configuration directory (default: user config dir)")
	adbPath := fs.String("adb", "", "path to the adb executable")
	timeout := fs.Duration("timeout", 0, "per-command adb timeout, 0 waits forever")
	debug := fs.Bool("debug", false, "enable debug logging")
	assumeYes := fs.Bool("y", false, "uninstall without asking for confirmation")
	mcpMode := fs.Bool("mcp", false, "serve MCP over stdio instead of running a command")
	initConfig := fs.Bool("init-config", false, "write settings.json from the current settings and flags, then exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	overrides := Overrides{
		ADBPath:   *adbPath,
		Timeout:   *timeout,
		Debug:     *debug,
		AssumeYes: *assumeYes,
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "timeout" {
			overrides.HasTimeout = true
		}
	})

	cfg, err := config.New(config.Config{
		ConfigDir: *configDir,
		LogFunc: func(format string, args ...interface{}) {
			LogWarn("config").Msgf(format, args...)
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	settings := overrides.apply(cfg.Settings())
	if *initConfig {
		return runInitConfig(cfg, settings, stdout, stderr)
	}

	logConfig := DefaultLogConfig()
	if settings.Log.File {
		logConfig = PersistentLogConfig(cfg.ConfigDir())
	}
	logConfig.Level = ParseLogLevel(settings.Log.Level)
	logConfig.Out = stderr
	if err := InitLogger(logConfig); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer CloseLogger()

	app, err := NewApp(cfg, overrides)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *mcpMode {
		return runMCP(app, stderr)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	app.startup()
	defer app.Shutdown()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "check":
		return runCheck(ctx, app, stdout, stderr)
	case "list":
		return runList(ctx, app, strings.Join(cmdArgs, " "), stdout, stderr)
	case "uninstall":
		if len(cmdArgs) != 1 {
			fmt.Fprintln(stderr, "Usage: adbappmgr uninstall <package>")
			return 2
		}
		return runUninstall(ctx, app, cmdArgs[0], stdin, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}
}

func runMCP(app *App, stderr io.Writer) int {
	app.mcpMode = true
	app.startup()
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewMCPServer(app, Logger)
	go func() {
		<-ctx.Done()
		server.Stop()
	}()

	if err := server.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runInitConfig persists settings so later runs pick them up without flags
func runInitConfig(cfg *config.Service, settings config.Settings, stdout, stderr io.Writer) int {
	if _, err := settings.BridgeOptions(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg.Update(settings)
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Settings written to %s\n", cfg.SettingsPath())
	return 0
}

func runCheck(ctx context.Context, app *App, stdout, stderr io.Writer) int {
	device, err := app.CheckConnection(ctx)
	if device == nil {
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "No device connected")
		return 0
	}

	fmt.Fprintf(stdout, "Device Connected: %s (%s)\n", device.Model, device.Serial)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load installed apps: %v\n", err)
		return 1
	}

	snapshot := app.Snapshot()
	fmt.Fprintf(stdout, "Installed apps: %d\n", snapshot.Total)
	printPackages(stdout, snapshot.Packages)
	return 0
}

func runList(ctx context.Context, app *App, query string, stdout, stderr io.Writer) int {
	if _, err := app.Refresh(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	packages := app.Filter(query)
	if len(packages) == 0 {
		fmt.Fprintln(stdout, "No packages found")
		return 0
	}
	printPackages(stdout, packages)
	return 0
}

func runUninstall(ctx context.Context, app *App, packageName string, stdin io.Reader, stdout, stderr io.Writer) int {
	if err := inventory.ValidatePackageName(packageName); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if app.ConfirmUninstall() && !confirm(stdin, stdout, packageName) {
		fmt.Fprintf(stdout, "Uninstallation of %s was aborted.\n", packageName)
		return 0
	}

	outcome, err := app.Remove(ctx, packageName)
	if err != nil && !outcome.Removed() {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !outcome.Removed() {
		fmt.Fprintf(stdout, "Failed to uninstall %s\n", packageName)
		if out := strings.TrimSpace(outcome.Output); out != "" {
			fmt.Fprintln(stdout, out)
		}
		return 1
	}

	fmt.Fprintf(stdout, "%s uninstalled successfully!\n", packageName)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v\n", err)
	}
	return 0
}

// confirm asks on stdout and reads one answer line; only y or yes accepts
func confirm(stdin io.Reader, stdout io.Writer, packageName string) bool {
	fmt.Fprintf(stdout, "Are you sure you want to remove %s? [y/N] ", packageName)

	answer, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(stdout)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func printPackages(w io.Writer, packages []string) {
	for _, p := range packages {
		fmt.Fprintln(w, p)
	}
}
