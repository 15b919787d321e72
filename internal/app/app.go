// Package app wires configuration into a running indexing pipeline.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/cache"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/config"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/database"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/feed"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/metrics"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/loader"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/uniswapv2"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/processor"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/realtime"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/rpc"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/sync"
)

// Store is the entity store backing the pipeline.
type Store interface {
	aggregator.Store
	IDs(ctx context.Context, kind string) ([]string, error)
	Ping(ctx context.Context) error
}

// Pipeline holds the components shared by the indexer and backfill commands.
type Pipeline struct {
	Config     *config.Config
	Store      Store
	Aggregator *aggregator.Aggregator
	Registry   *core.ModuleRegistry
	Processor  *processor.Processor
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	// RPC is nil when no chain.rpc_endpoint is configured.
	RPC *rpc.Client
	// Publisher is nil when realtime publishing is disabled.
	Publisher *realtime.Publisher

	logger  zerolog.Logger
	closers []func()
}

// Build connects every dependency named in cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *Pipeline, err error) {
	p := &Pipeline{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	manifest, err := loader.NewManifestLoader(logger, loader.WithNetwork(cfg.Chain.Name)).LoadFromFile(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	settings, err := uniswapv2.LoadSettings(manifest)
	if err != nil {
		return nil, err
	}
	aggCfg, err := aggregator.NewConfig(settings)
	if err != nil {
		return nil, err
	}

	if p.Store, err = p.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.Chain.RPCEndpoint != "" {
		client, err := rpc.NewClient(cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, cfg.Processor.Workers, logger)
		if err != nil {
			return nil, err
		}
		p.RPC = client
		p.closers = append(p.closers, client.Close)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	p.Metrics = metrics.New(registry)
	p.Gatherer = registry

	observers := aggregator.Observers{p.Metrics}
	if cfg.Realtime.Enabled {
		p.Publisher = realtime.NewPublisher(realtime.PublishConfig{
			APIURL:  cfg.Realtime.APIURL,
			APIKey:  cfg.Realtime.APIKey,
			Timeout: cfg.Realtime.Timeout,
		}, logger)
		observers = append(observers, p.Publisher)
		p.closers = append(p.closers, func() { _ = p.Publisher.Close() })
	}

	opts := []aggregator.Option{aggregator.WithObserver(observers)}
	lookupOpts, err := p.lookups(ctx, aggCfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, lookupOpts...)

	p.Aggregator = aggregator.New(aggCfg, p.Store, logger, opts...)

	module, err := uniswapv2.New(manifest, p.Aggregator, logger, uniswapv2.WithMetrics(p.Metrics))
	if err != nil {
		return nil, err
	}
	p.Registry = core.NewModuleRegistry(logger)
	if err := p.Registry.RegisterModule(module); err != nil {
		return nil, err
	}
	if err := p.Registry.Start(); err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = p.Registry.Stop() })

	p.Processor = processor.New(p.Registry, p.Aggregator, logger)

	logger.Info().
		Strs("modules", p.Registry.ListModules()).
		Str("store", cfg.Store.Backend).
		Str("feed", cfg.Feed.Source).
		Str("factory", aggCfg.FactoryAddress()).
		Msg("Pipeline ready")

	return p, nil
}

func (p *Pipeline) openStore(ctx context.Context) (Store, error) {
	if p.Config.Store.Backend == "memory" {
		p.logger.Warn().Msg("Using in-memory store, state is lost on exit")
		return database.NewMemoryStore(), nil
	}

	if err := database.RunMigrations(ctx, p.Config.Database.ConnectionString(), p.logger); err != nil {
		return nil, err
	}
	db, err := database.New(ctx, &p.Config.Database, p.logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, db.Close)
	return database.NewEntityStore(db), nil
}

// lookups picks the pair and token metadata sources, wrapping RPC-backed ones
// in the Redis cache when it is enabled.
func (p *Pipeline) lookups(ctx context.Context, aggCfg *aggregator.Config) ([]aggregator.Option, error) {
	if p.RPC == nil {
		return nil, nil
	}

	var pairs aggregator.PairLookup
	if p.Config.Processor.PairLookup == "rpc" {
		pairs = rpc.NewFactoryLookup(p.RPC.Caller(), aggCfg.FactoryAddress())
	}
	var tokens aggregator.TokenMetadata = rpc.NewTokenReader(p.RPC.Caller(), p.logger)

	redisCfg := p.Config.Cache.Redis
	if redisCfg.Enabled {
		client, err := cache.Connect(ctx, redisCfg.Addr, redisCfg.Password, redisCfg.DB)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func() { _ = client.Close() })

		redisCache := cache.NewRedisCache(client, redisCfg.TTL, p.logger)
		tokens = redisCache.Tokens(tokens)
		if pairs != nil {
			pairs = redisCache.Pairs(pairs)
		}
	}

	opts := []aggregator.Option{aggregator.WithTokenMetadata(tokens)}
	if pairs != nil {
		opts = append(opts, aggregator.WithPairLookup(pairs))
	}
	return opts, nil
}

// SyncManager builds the RPC log feed.
func (p *Pipeline) SyncManager() (*sync.Manager, error) {
	if p.RPC == nil {
		return nil, fmt.Errorf("rpc feed requires chain.rpc_endpoint")
	}
	start := p.Config.Chain.StartBlock
	if start == 0 {
		start = p.Registry.StartBlock()
	}
	return sync.NewManager(p.RPC, p.Processor, p.Store, sync.Config{
		Factory:      common.HexToAddress(p.Aggregator.Config().FactoryAddress()),
		BatchSize:    p.Config.Processor.BatchSize,
		AddressChunk: p.Config.Processor.AddressChunk,
		RetryDelay:   p.Config.Processor.RetryDelay,
		PollInterval: p.Config.Chain.BlockTime,
		StartBlock:   start,
	}, p.logger), nil
}

// KafkaSource builds the Kafka log feed.
func (p *Pipeline) KafkaSource() (*feed.KafkaSource, error) {
	k := p.Config.Feed.Kafka
	return feed.NewKafkaSource(feed.Config{
		Brokers:    k.Brokers,
		Topic:      k.Topic,
		GroupID:    k.GroupID,
		Version:    k.Version,
		RetryDelay: p.Config.Processor.RetryDelay,
	}, p.Processor, p.logger)
}

// Close releases resources in reverse order of acquisition.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
