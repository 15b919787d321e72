package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

// Gauges receives the periodic protocol snapshot.
type Gauges interface {
	SetFactory(f *aggregator.Factory)
	SetSync(nextBlock, chainTip uint64)
}

type OverviewPublisher interface {
	PublishOverview(ctx context.Context, factory *aggregator.Factory, bundle *aggregator.Bundle) error
}

// SyncStatus reports the feed position. ok is false when the feed has none.
type SyncStatus func() (nextBlock, chainTip uint64, ok bool)

// SnapshotScheduler periodically reads the factory and bundle and exports
// them as gauges and as a realtime overview.
type SnapshotScheduler struct {
	repo      aggregator.Repository
	factoryID string
	interval  time.Duration
	gauges    Gauges
	publisher OverviewPublisher
	status    SyncStatus
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

type Option func(*SnapshotScheduler)

func WithPublisher(p OverviewPublisher) Option {
	return func(s *SnapshotScheduler) { s.publisher = p }
}

func WithSyncStatus(fn SyncStatus) Option {
	return func(s *SnapshotScheduler) { s.status = fn }
}

func NewSnapshotScheduler(repo aggregator.Repository, factoryID string, interval time.Duration, gauges Gauges, logger zerolog.Logger, opts ...Option) (*SnapshotScheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}

	scheduler := &SnapshotScheduler{
		repo:      repo,
		factoryID: factoryID,
		interval:  interval,
		gauges:    gauges,
		scheduler: s,
		logger:    logger.With().Str("component", "snapshot-scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler, nil
}

// Start schedules the snapshot job and runs it once immediately.
func (s *SnapshotScheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.run, ctx),
		gocron.WithName("protocol-snapshot"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule snapshot job: %w", err)
	}

	s.logger.Info().Dur("interval", s.interval).Msg("Snapshot scheduler started")
	s.scheduler.Start()
	return nil
}

func (s *SnapshotScheduler) Stop() {
	s.logger.Info().Msg("Stopping snapshot scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (s *SnapshotScheduler) run(ctx context.Context) {
	if err := s.Snapshot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to take protocol snapshot")
	}
}

// Snapshot exports the current state once. Before the factory exists only the
// sync position is exported.
func (s *SnapshotScheduler) Snapshot(ctx context.Context) error {
	if s.status != nil {
		if next, tip, ok := s.status(); ok {
			s.gauges.SetSync(next, tip)
		}
	}

	var factory aggregator.Factory
	found, err := s.repo.Load(ctx, aggregator.KindFactory, s.factoryID, &factory)
	if err != nil {
		return fmt.Errorf("failed to load factory: %w", err)
	}
	if !found {
		s.logger.Debug().Msg("Factory not indexed yet")
		return nil
	}

	bundle := aggregator.Bundle{ID: aggregator.BundleID}
	if _, err := s.repo.Load(ctx, aggregator.KindBundle, aggregator.BundleID, &bundle); err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}

	s.gauges.SetFactory(&factory)

	if s.publisher != nil {
		if err := s.publisher.PublishOverview(ctx, &factory, &bundle); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish overview")
		}
	}

	s.logger.Debug().
		Uint64("pairs", factory.PairCount).
		Uint64("tx_count", factory.TxCount).
		Str("liquidity_usd", factory.TotalLiquidityUSD.StringFixed(2)).
		Msg("Protocol snapshot taken")
	return nil
}
