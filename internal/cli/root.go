// Package cli provides the command-line interface for docflow.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docflowd/docflow/internal/blob"
	"github.com/docflowd/docflow/internal/config"
	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/metrics"
	"github.com/docflowd/docflow/internal/pipeline"
	"github.com/docflowd/docflow/internal/runner"
	"github.com/docflowd/docflow/internal/scheduler"
	"github.com/docflowd/docflow/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	kbFlag  string

	// Wired in PersistentPreRunE
	cfg        config.Config
	eng        engine.Engine
	stores     *store.Stores
	blobs      *blob.Store
	jobRunner  *runner.Runner
	sched      *scheduler.Scheduler
	collector  *metrics.Collector
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Document ingestion pipeline",
	Long: `Docflow ingests documents from files and URLs into a knowledge base:
raw content is deduplicated by hash, converted to markdown, split into
hierarchically positioned segments and embedded, all driven by a durable
task/job pipeline that can be resumed and replayed safely.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip wiring for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)
		logCleanup = cleanup

		var err error
		eng, err = engine.Open(engine.Config{
			Backend:          engine.Backend(cfg.Backend),
			SQLitePath:       cfg.SQLitePath,
			BadgerDir:        cfg.BadgerDir,
			SurrealURL:       cfg.SurrealDBURL,
			SurrealNamespace: cfg.SurrealDBNamespace,
			SurrealDatabase:  cfg.SurrealDBDatabase,
			SurrealUser:      cfg.SurrealDBUser,
			SurrealPass:      cfg.SurrealDBPass,
		})
		if err != nil {
			return fmt.Errorf("open storage engine: %w", err)
		}

		stores = store.New(eng, cfg.JobLogDir)

		blobs, err = blob.NewStore(cfg.BlobDir)
		if err != nil {
			return err
		}

		embedder, err := pipeline.NewEmbedder(pipeline.EmbedOptions{
			Provider:  cfg.EmbedProvider,
			Model:     cfg.EmbedModel,
			ServerURL: cfg.OllamaHost,
			APIKey:    cfg.OpenAIAPIKey,
			Dimension: cfg.EmbedDimension,
		})
		if err != nil {
			return fmt.Errorf("init embedder: %w", err)
		}

		collector = metrics.NewCollector()
		jobRunner = &runner.Runner{
			Stores: stores,
			Blobs:  blobs,
			Connectors: pipeline.NewConnectorSet(
				pipeline.FileConnector{},
				pipeline.NewURLConnector(),
			),
			Splitter: pipeline.HeadingSplitter{Config: pipeline.DefaultSplitConfig()},
			Embedder: embedder,
			Metrics:  collector,
		}

		sched, err = scheduler.New(stores, jobRunner, scheduler.Options{
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			PollInterval: cfg.PollInterval,
		})
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sched != nil {
			sched.Close()
		}
		if eng != nil {
			if err := eng.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close storage engine: %v\n", err)
			}
		}
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&kbFlag, "kb", "default", "knowledge base id")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
