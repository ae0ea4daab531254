// Toolgate is a controller for MCP (Model Context Protocol) servers.
//
// It supervises local MCP server processes, connects to remote MCP
// endpoints, discovers and persists their tools, and exposes a
// management HTTP API that also bridges tool calls into LLM chat
// conversations. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]); toolgate
// runs with built-in defaults when no file exists.
//
// Usage:
//
//	toolgate serve           Start the API server
//	toolgate version         Print version and build information
//	toolgate -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quillon/toolgate/internal/api"
	"github.com/quillon/toolgate/internal/buildinfo"
	"github.com/quillon/toolgate/internal/config"
	"github.com/quillon/toolgate/internal/mcp"
	"github.com/quillon/toolgate/internal/store"
	"github.com/quillon/toolgate/internal/supervisor"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the toolgate command. OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand; the flag package
// relies on package-level globals, which makes run() unsafe to call
// concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Toolgate - MCP Server Controller")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: toolgate [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/toolgate/config.yaml, /etc/toolgate/config.yaml")
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting toolgate", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	st, err := store.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.Database)

	procs := supervisor.New(cfg.LogsDir, logger)
	session := mcp.NewSession(procs, logger)

	// No child process survives a controller restart; statuses left over
	// from the previous run are stale until proven otherwise.
	if err := reconcileStatuses(st, procs, logger); err != nil {
		logger.Error("startup status reconciliation failed", "error", err)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, st, procs, session, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	err = server.Start(ctx)

	// Stop every supervised child before exiting, whatever brought the
	// server down.
	procs.ShutdownAll()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("toolgate stopped")
	return nil
}

// reconcileStatuses verifies every local server marked running or
// connected in the database against the actual process table and
// downgrades stale entries to stopped.
func reconcileStatuses(st *store.Store, procs *supervisor.Supervisor, logger *slog.Logger) error {
	servers, err := st.GetServers()
	if err != nil {
		return err
	}

	for _, srv := range servers {
		if srv.ServerType != store.ServerTypeLocal {
			continue
		}
		if srv.Status != store.StatusConnected && srv.ProcessStatus != store.StatusRunning {
			continue
		}
		if procs.Health(srv.ID).Running {
			continue
		}
		logger.Info("server marked running but process is gone, resetting status",
			"server", srv.ID, "name", srv.Name)
		if err := st.UpdateProcessStatus(srv.ID, store.StatusStopped); err != nil {
			return err
		}
		if err := st.UpdateServerStatus(srv.ID, store.StatusStopped); err != nil {
			return err
		}
	}
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All toolgate log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist; otherwise the default search paths are tried and a
// built-in default configuration is used when none match.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
