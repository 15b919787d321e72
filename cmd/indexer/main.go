package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/api"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/app"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/config"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/scheduler"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("version", "0.1.0").
		Str("config", configPath).
		Str("chain", cfg.Chain.Name).
		Msg("Starting Elk V2 indexer")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Indexer failed")
	}
	logger.Info().Msg("Indexer shutdown complete")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	runner := app.NewRunner(logger)
	checks := api.HealthChecks{Store: pipeline.Store, Cursor: pipeline.Aggregator}
	if pipeline.RPC != nil {
		checks.Chain = pipeline.RPC
	}

	var opts []scheduler.Option
	if pipeline.Publisher != nil {
		opts = append(opts, scheduler.WithPublisher(pipeline.Publisher))
	}

	switch cfg.Feed.Source {
	case "kafka":
		source, err := pipeline.KafkaSource()
		if err != nil {
			return err
		}
		defer source.Close()
		runner.Add(ctx, "kafka-feed", source)
	default:
		manager, err := pipeline.SyncManager()
		if err != nil {
			return err
		}
		checks.Sync = manager
		opts = append(opts, scheduler.WithSyncStatus(func() (uint64, uint64, bool) {
			status := manager.GetStatus()
			return status.NextBlock, status.ChainTip, true
		}))
		runner.Add(ctx, "rpc-feed", manager)
	}

	snapshots, err := scheduler.NewSnapshotScheduler(
		pipeline.Store,
		pipeline.Aggregator.Config().FactoryAddress(),
		cfg.Scheduler.SnapshotInterval,
		pipeline.Metrics,
		logger,
		opts...,
	)
	if err != nil {
		return err
	}
	runner.Add(ctx, "snapshots", app.ServiceFunc(func(ctx context.Context) error {
		if err := snapshots.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		snapshots.Stop()
		return nil
	}))

	server := api.NewHealthServer(checks, pipeline.Gatherer, logger)
	runner.Add(ctx, "health", app.ServiceFunc(func(ctx context.Context) error {
		return server.Start(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	}))

	return runner.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}

	return logger
}
