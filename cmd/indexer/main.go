package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdxdocs/docs-mcp-server/internal/config"
	"github.com/mdxdocs/docs-mcp-server/internal/indexing"
	"github.com/mdxdocs/docs-mcp-server/internal/logger"
	"github.com/mdxdocs/docs-mcp-server/internal/search"
	"github.com/mdxdocs/docs-mcp-server/internal/telemetry"
	"github.com/mdxdocs/docs-mcp-server/internal/watch"
	"github.com/mdxdocs/docs-mcp-server/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	opts.shutdown()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	docsDir    string
	dataDir    string
	logLevel   string
	logJSON    bool

	cfg             *config.Config
	shutdownMetrics telemetry.ShutdownFunc
}

func newRootCommand() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "indexer",
		Short:         "Chunk and index MDX documentation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&opts.docsDir, "docs-dir", "", "Documentation root (overrides config)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "Index and manifest directory (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")

	cmd.AddCommand(newChunkCommand(opts))
	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newSearchCommand(opts))
	return cmd, opts
}

// load reads the config and applies flag overrides on top of it.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("docs-dir") {
		cfg.DocsDir = o.docsDir
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.dataDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger.Setup(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	o.cfg = cfg

	shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Config{
		Endpoint:    cfg.Metrics.Endpoint,
		Interval:    cfg.Metrics.Interval,
		ServiceName: "docs-indexer",
	})
	if err != nil {
		return err
	}
	o.shutdownMetrics = shutdown
	return nil
}

// shutdown flushes pending metrics. It is safe to call when setup never ran.
func (o *rootOptions) shutdown() {
	if o.shutdownMetrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.shutdownMetrics(ctx); err != nil {
		logger.Warn("Error flushing metrics", "err", err)
	}
	o.shutdownMetrics = nil
}

// openService configures the shared documentation service. With open set it
// also opens the index, building it when missing.
func (o *rootOptions) openService(ctx context.Context, open bool) (func(), error) {
	if err := tools.Configure(o.cfg); err != nil {
		return nil, err
	}
	cleanup := func() {
		if err := tools.CloseDocSearch(); err != nil {
			logger.Error("Error closing doc search", "err", err)
		}
	}
	if !open {
		return cleanup, nil
	}
	if err := tools.InitializeDocSearch(ctx); err != nil {
		cleanup()
		return nil, err
	}
	return cleanup, nil
}

func newChunkCommand(opts *rootOptions) *cobra.Command {
	var (
		glob    string
		mode    string
		workers int
		strip   bool
	)
	cmd := &cobra.Command{
		Use:   "chunk [dir]",
		Short: "Chunk every document under dir and print the fragments as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.cfg.DocsDir
			if len(args) == 1 {
				dir = args[0]
			}
			if !cmd.Flags().Changed("glob") {
				glob = opts.cfg.Glob
			}
			if !cmd.Flags().Changed("mode") {
				mode = opts.cfg.CoarseMode
			}
			if !cmd.Flags().Changed("workers") {
				workers = opts.cfg.Workers
			}
			if !cmd.Flags().Changed("strip-frontmatter") {
				strip = opts.cfg.StripFrontmatter
			}

			coarse := indexing.CoarseMode(mode)
			if coarse != indexing.CoarseStructural && coarse != indexing.CoarseRecursive {
				return fmt.Errorf("unknown coarse mode %q", mode)
			}

			fragments, err := indexing.LoadAndChunk(cmd.Context(), dir,
				indexing.WithGlob(glob),
				indexing.WithWorkers(workers),
				indexing.WithChunker(indexing.NewChunker(indexing.WithCoarseMode(coarse))),
				indexing.WithRecorder(telemetry.Default()),
				indexing.WithStripFrontmatter(strip),
			)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, f := range fragments {
				if err := enc.Encode(f); err != nil {
					return err
				}
			}
			logger.Info("✓ Chunked documentation",
				"dir", dir,
				"fragments", len(fragments),
				"by_type", indexing.CountByType(fragments))
			return nil
		},
	}
	cmd.Flags().StringVar(&glob, "glob", indexing.DefaultGlob, "Pattern selecting documentation files")
	cmd.Flags().StringVar(&mode, "mode", string(indexing.CoarseStructural), "Coarse split: structural or recursive")
	cmd.Flags().IntVar(&workers, "workers", 4, "Documents chunked concurrently")
	cmd.Flags().BoolVar(&strip, "strip-frontmatter", false, "Drop the YAML header before chunking")
	return cmd
}

func newBuildCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "build [docs-dir] [data-dir]",
		Short: "Build the search index from the docs directory",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.cfg.DocsDir = args[0]
			}
			if len(args) > 1 {
				opts.cfg.DataDir = args[1]
			}
			cleanup, err := opts.openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := tools.RebuildIndex(cmd.Context(), force)
			if err != nil {
				return err
			}
			for _, p := range out.InvalidFrontmatter {
				logger.Warn("Invalid frontmatter", "path", p)
			}
			logger.Info("✓ "+out.Message,
				"index", opts.cfg.IndexPath(),
				"documents", out.Documents,
				"chunks", out.ChunksIndexed,
				"schema", indexing.IndexSchemaVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild even when no document changed")
	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		removed []string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "sync [changed...]",
		Short: "Reindex changed documents and drop removed ones; with no paths, sync the whole tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, err := opts.openService(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := tools.SyncDocuments(cmd.Context(), search.Request{
				Changed: args,
				Removed: removed,
				Force:   force,
			})
			if err != nil {
				return err
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(stats); err != nil {
				return err
			}
			if stats.Errors > 0 {
				return fmt.Errorf("%d documents failed to sync: %v", stats.Errors, stats.ErrorFiles)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&removed, "removed", nil, "Documents to drop from the index")
	cmd.Flags().BoolVar(&force, "force", false, "Reindex documents even when their hash is unchanged")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in sync with the docs directory until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cleanup, err := opts.openService(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			w, err := watch.New(opts.cfg.DocsDir, tools.DocsMatcher(), func(ctx context.Context, changed, removed []string) {
				stats, err := tools.SyncDocuments(ctx, search.Request{Changed: changed, Removed: removed})
				if err != nil {
					logger.Error("Sync failed", "err", err)
					return
				}
				logger.Info("✓ Synced", "processed", stats.Processed, "deleted", stats.Deleted, "errors", stats.Errors)
			})
			if err != nil {
				return err
			}

			logger.Info("Watching documentation", "docs_dir", opts.cfg.DocsDir)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var (
		limit       int
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the search index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, err := opts.openService(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := tools.SearchDocs(cmd.Context(), tools.SearchDocumentationInput{
				Query:       args[0],
				MaxResults:  limit,
				ContentType: contentType,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for i, hit := range out.Results {
				c := hit.Chunk
				fmt.Fprintf(w, "%d. %s [%s] %.3f\n", i+1, c.Path, c.ContentType, hit.Score)
				if c.Breadcrumb != "" {
					fmt.Fprintf(w, "   %s\n", c.Breadcrumb)
				}
				if c.URL != "" {
					fmt.Fprintf(w, "   %s\n", c.URL)
				}
			}
			logger.Info("Search finished", "query", out.Query, "total_hits", out.TotalHits)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (config default when 0)")
	cmd.Flags().StringVar(&contentType, "type", "", "Only return chunks of this content type")
	return cmd
}
