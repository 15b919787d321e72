package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/app"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/config"
)

func main() {
	var (
		configPath string
		fromBlock  uint64
		toBlock    uint64
	)

	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Uint64Var(&fromBlock, "from", 0, "Starting block (defaults to the cursor or manifest start block)")
	flag.Uint64Var(&toBlock, "to", 0, "Ending block")
	flag.Parse()

	if toBlock == 0 || toBlock < fromBlock {
		fmt.Fprintf(os.Stderr, "A -to block at or after -from is required\n")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Chain.RPCEndpoint == "" {
		fmt.Fprintf(os.Stderr, "chain.rpc_endpoint is required for backfill\n")
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer pipeline.Close()

	manager, err := pipeline.SyncManager()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create sync manager")
	}

	logger.Info().
		Uint64("from", fromBlock).
		Uint64("to", toBlock).
		Msg("Starting backfill")

	start := time.Now()
	if err := manager.Backfill(ctx, fromBlock, toBlock); err != nil {
		pipeline.Close()
		logger.Fatal().Err(err).Msg("Backfill failed")
	}

	status := manager.GetStatus()
	logger.Info().
		Uint64("next_block", status.NextBlock).
		Int("known_pairs", status.KnownPairs).
		Dur("elapsed", time.Since(start)).
		Msg("Backfill complete")
}
