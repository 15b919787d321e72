package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

func TestObserverUpdatesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.PairSwapped(ctx, &aggregator.SwapEvent{AmountUSD: decimal.RequireFromString("150.5")}, &aggregator.Pair{})
	m.PairSwapped(ctx, &aggregator.SwapEvent{AmountUSD: decimal.RequireFromString("49.5")}, &aggregator.Pair{})
	m.LiquidityAdded(ctx, &aggregator.MintEvent{}, &aggregator.Pair{})
	m.LiquidityRemoved(ctx, &aggregator.BurnEvent{}, &aggregator.Pair{})
	m.LiquidityRemoved(ctx, &aggregator.BurnEvent{}, &aggregator.Pair{})
	m.ReferencePriceUpdated(ctx, &aggregator.Bundle{ETHPrice: decimal.NewFromInt(2000)})
	m.EventSkipped(ctx, "Sync", "problematic block")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwapsTotal))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.SwapVolumeUSD))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiquidityTotal.WithLabelValues("mint")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LiquidityTotal.WithLabelValues("burn")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.ETHPriceUSD))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedTotal.WithLabelValues("Sync", "problematic block")))
}

func TestObserveEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvent("Swap", "applied", 3*time.Millisecond)
	m.ObserveEvent("Swap", "applied", time.Millisecond)
	m.ObserveEvent("Mint", "malformed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("Swap", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("Mint", "malformed")))

	count, err := testutil.GatherAndCount(reg, "elk_v2_ingestion_event_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSnapshotGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetFactory(&aggregator.Factory{
		PairCount:         12,
		TxCount:           340,
		TotalLiquidityUSD: decimal.NewFromInt(1_000_000),
		TotalVolumeUSD:    decimal.NewFromInt(5_000_000),
	})
	m.SetSync(101, 150)

	assert.Equal(t, 12.0, testutil.ToFloat64(m.PairCount))
	assert.Equal(t, 340.0, testutil.ToFloat64(m.FactoryTxCount))
	assert.Equal(t, 1e6, testutil.ToFloat64(m.TotalLiquidityUSD))
	assert.Equal(t, 5e6, testutil.ToFloat64(m.TotalVolumeUSD))
	assert.Equal(t, 101.0, testutil.ToFloat64(m.SyncNextBlock))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.SyncChainTip))
}

func TestRegisteringTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
