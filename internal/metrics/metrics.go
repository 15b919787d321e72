// Package metrics exposes indexer and protocol metrics to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

const namespace = "elk_v2"

// Metrics records per-event outcomes and aggregate protocol state.
type Metrics struct {
	EventsTotal   *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec
	SkippedTotal  *prometheus.CounterVec

	SwapsTotal     prometheus.Counter
	SwapVolumeUSD  prometheus.Counter
	LiquidityTotal *prometheus.CounterVec
	ETHPriceUSD    prometheus.Gauge

	PairCount         prometheus.Gauge
	TotalLiquidityUSD prometheus.Gauge
	TotalVolumeUSD    prometheus.Gauge
	FactoryTxCount    prometheus.Gauge

	SyncNextBlock prometheus.Gauge
	SyncChainTip  prometheus.Gauge
}

var _ aggregator.Observer = (*Metrics)(nil)

// New registers all metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Pool and factory logs handled, by event and outcome",
		}, []string{"event", "outcome"}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_duration_seconds",
			Help:      "Time spent applying one log",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		SkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_skipped_total",
			Help:      "Logs accepted without changing state, by event and reason",
		}, []string{"event", "reason"}),

		SwapsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "swaps_total",
			Help:      "Swaps recorded",
		}),
		SwapVolumeUSD: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "swap_volume_usd_total",
			Help:      "Tracked USD volume of recorded swaps",
		}),
		LiquidityTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "liquidity_events_total",
			Help:      "Completed mints and burns",
		}, []string{"kind"}),
		ETHPriceUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "reference_price_usd",
			Help:      "USD price of the wrapped native token",
		}),

		PairCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "pairs",
			Help:      "Pairs created by the factory",
		}),
		TotalLiquidityUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "liquidity_usd",
			Help:      "Tracked liquidity across all pairs in USD",
		}),
		TotalVolumeUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "volume_usd",
			Help:      "All-time tracked volume in USD",
		}),
		FactoryTxCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "factory",
			Name:      "transactions",
			Help:      "Swaps, mints and burns recorded by the factory",
		}),

		SyncNextBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "next_block",
			Help:      "Next block the sync manager will fetch",
		}),
		SyncChainTip: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "chain_tip",
			Help:      "Latest block reported by the chain",
		}),
	}
}

// ObserveEvent records the outcome of one handled log.
func (m *Metrics) ObserveEvent(event, outcome string, duration time.Duration) {
	m.EventsTotal.WithLabelValues(event, outcome).Inc()
	m.EventDuration.WithLabelValues(event).Observe(duration.Seconds())
}

func (m *Metrics) PairSwapped(_ context.Context, swap *aggregator.SwapEvent, _ *aggregator.Pair) {
	m.SwapsTotal.Inc()
	m.SwapVolumeUSD.Add(swap.AmountUSD.InexactFloat64())
}

func (m *Metrics) LiquidityAdded(context.Context, *aggregator.MintEvent, *aggregator.Pair) {
	m.LiquidityTotal.WithLabelValues("mint").Inc()
}

func (m *Metrics) LiquidityRemoved(context.Context, *aggregator.BurnEvent, *aggregator.Pair) {
	m.LiquidityTotal.WithLabelValues("burn").Inc()
}

func (m *Metrics) ReferencePriceUpdated(_ context.Context, bundle *aggregator.Bundle) {
	m.ETHPriceUSD.Set(bundle.ETHPrice.InexactFloat64())
}

func (m *Metrics) EventSkipped(_ context.Context, event, reason string) {
	m.SkippedTotal.WithLabelValues(event, reason).Inc()
}

// SetFactory publishes the protocol totals.
func (m *Metrics) SetFactory(f *aggregator.Factory) {
	m.PairCount.Set(float64(f.PairCount))
	m.TotalLiquidityUSD.Set(f.TotalLiquidityUSD.InexactFloat64())
	m.TotalVolumeUSD.Set(f.TotalVolumeUSD.InexactFloat64())
	m.FactoryTxCount.Set(float64(f.TxCount))
}

func (m *Metrics) SetSync(nextBlock, chainTip uint64) {
	m.SyncNextBlock.Set(float64(nextBlock))
	m.SyncChainTip.Set(float64(chainTip))
}
