package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mdxdocs/docs-mcp-server/internal/config"
	"github.com/mdxdocs/docs-mcp-server/internal/logger"
	"github.com/mdxdocs/docs-mcp-server/internal/search"
	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
	"github.com/mdxdocs/docs-mcp-server/internal/watch"
	"github.com/mdxdocs/docs-mcp-server/tools"
)

const (
	version     = "0.3.0"
	serverName  = "docs-mcp-server"
	description = "MCP server for searching MDX documentation"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("%s version %s\n", serverName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serverName, err)
		os.Exit(1)
	}

	// Logs go to stderr (MCP uses stdout for protocol)
	logger.Setup(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	logger.Info("Server starting", "name", serverName, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownMetrics, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.Metrics.Endpoint,
		Interval:       cfg.Metrics.Interval,
		ServiceName:    serverName,
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		// ctx is already cancelled on shutdown
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("Error flushing metrics", "err", err)
		}
	}()
	if cfg.Metrics.Endpoint != "" {
		logger.Info("✓ Metrics export enabled", "endpoint", cfg.Metrics.Endpoint)
	}

	server := createMCPServer()

	if err := tools.Configure(cfg); err != nil {
		return fmt.Errorf("failed to configure documentation tools: %w", err)
	}
	// Set up cleanup on shutdown
	defer func() {
		if err := tools.CloseDocSearch(); err != nil {
			logger.Error("Error closing doc search", "err", err)
		}
	}()

	if err := tools.RegisterDocTools(ctx, server); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	if cfg.Watch {
		if err := startWatcher(ctx, cfg); err != nil {
			logger.Warn("File watching disabled", "err", err)
		}
	}

	logger.Info("✓ Server ready and waiting for connections")
	return server.Run(ctx, &mcp.StdioTransport{})
}

// createMCPServer initializes the MCP server
func createMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		&mcp.ServerOptions{Instructions: description},
	)

	logger.Info("Server initialized", "name", serverName, "version", version)
	return server
}

// startWatcher keeps the index in sync with edits under the docs directory.
func startWatcher(ctx context.Context, cfg *config.Config) error {
	w, err := watch.New(cfg.DocsDir, tools.DocsMatcher(), func(ctx context.Context, changed, removed []string) {
		stats, err := tools.SyncDocuments(ctx, search.Request{Changed: changed, Removed: removed})
		if err != nil {
			logger.Error("Watch sync failed", "err", err)
			return
		}
		if len(stats.InvalidFrontmatter) > 0 {
			logger.Warn("Documents with invalid frontmatter", "paths", stats.InvalidFrontmatter)
		}
	})
	if err != nil {
		return err
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("File watcher stopped", "err", err)
		}
	}()
	return nil
}

// configPath returns the value of --config, if given.
func configPath(args []string) string {
	for i, arg := range args {
		if value, ok := strings.CutPrefix(arg, "--config="); ok {
			return value
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
