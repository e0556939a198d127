package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/intel-pipeline/internal/cli"
	"horse.fit/intel-pipeline/internal/config"
	"horse.fit/intel-pipeline/internal/db"
	"horse.fit/intel-pipeline/internal/logging"
	"horse.fit/intel-pipeline/internal/pipeline"
)

// newPipelineService wires the pipeline's dependencies from config.
func newPipelineService(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) *pipeline.Service {
	store := db.NewStore(pool)
	return pipeline.NewService(
		store,
		store,
		pipeline.NewExtractClient(cfg.ExtractionEndpoint, 0),
		pipeline.NewEmbedClient(cfg.EmbeddingEndpoint, cfg.EmbeddingDimensions, 0),
		logger,
		pipeline.Options{
			FingerprintThreshold:  cfg.FingerprintThreshold,
			SemanticThreshold:     cfg.SemanticThreshold,
			ClusterMergeThreshold: cfg.ClusterMergeThreshold,
			ClusterMergeEnabled:   cfg.ClusterMergeEnabled,
			NoveltyWeeks:          cfg.NoveltyWeeks,
			EmbeddingDimensions:   cfg.EmbeddingDimensions,
		},
	)
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	batchSize := fs.Int("batch-size", 0, "Maximum content items per run (0 = whole backlog)")
	weekNumber := fs.String("week", "", "ISO week label for created clusters (default: current week)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batchSize < 0 {
		fmt.Fprintln(os.Stderr, "--batch-size must be >= 0")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("process command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := newPipelineService(pool, cfg, logger)
	result, err := svc.ProcessBatch(ctx, pipeline.ProcessOptions{
		WeekNumber: *weekNumber,
		BatchSize:  *batchSize,
	})
	if err != nil {
		logger.Error().Err(err).Msg("process failed")
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	printBatchResult("process", result)
	return 0
}

func runReprocess(args []string) int {
	fs := flag.NewFlagSet("reprocess", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	weekNumber := fs.String("week", "", "ISO week label for created clusters (default: current week)")
	confirm := fs.Bool("yes", false, "Confirm deletion of all derived data")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if !*confirm {
		fmt.Fprintln(os.Stderr, "reprocess deletes all processed items and clusters; rerun with --yes to confirm")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("reprocess command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := newPipelineService(pool, cfg, logger)
	result, err := svc.ReprocessAll(ctx, pipeline.ProcessOptions{
		WeekNumber: *weekNumber,
	})
	if err != nil {
		logger.Error().Err(err).Msg("reprocess failed")
		fmt.Fprintf(os.Stderr, "Reprocess failed: %v\n", err)
		return 1
	}

	printBatchResult("reprocess", result)
	return 0
}

func printBatchResult(command string, result pipeline.BatchResult) {
	fmt.Printf(
		"%s processed=%d skipped=%d failed=%d duplicates=%d clusters=%d\n",
		command,
		result.ItemsProcessed,
		result.ItemsSkipped,
		result.ItemsFailed,
		result.DuplicatesFound,
		result.ClustersCreated,
	)
	for _, message := range result.Errors {
		fmt.Fprintf(os.Stderr, "item error: %s\n", message)
	}
}
