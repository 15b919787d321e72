package aggregator_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

func TestSyncSetsReservesAndPrices(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.createPair(wethUSDC, weth, usdc)
	h.advance(12)
	h.sync(wethUSDC, units("10", 18), units("20000", 6))

	pair := get[aggregator.Pair](h, aggregator.KindPair, wethUSDC)
	assertDecimal(t, "10", pair.Reserve0)
	assertDecimal(t, "20000", pair.Reserve1)
	assertDecimal(t, "0.0005", pair.Token0Price)
	assertDecimal(t, "2000", pair.Token1Price)

	bundle := get[aggregator.Bundle](h, aggregator.KindBundle, aggregator.BundleID)
	assertDecimal(t, "2000", bundle.ETHPrice)
}

func TestSyncZeroReserveYieldsZeroPrice(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.createPair(xWETH, tokenX, weth)
	h.advance(12)
	h.sync(xWETH, units("100", 18), big.NewInt(0))

	pair := get[aggregator.Pair](h, aggregator.KindPair, xWETH)
	assertDecimal(t, "0", pair.Token0Price)
	assertDecimal(t, "0", pair.Token1Price)

	// No stable pool exists yet.
	bundle := get[aggregator.Bundle](h, aggregator.KindBundle, aggregator.BundleID)
	assertDecimal(t, "1", bundle.ETHPrice)
}

func TestSyncPricesAreReciprocal(t *testing.T) {
	tests := []struct {
		name     string
		reserve0 string
		reserve1 string
	}{
		{"non-terminating ratio", "3", "7"},
		{"one third", "1", "3"},
		{"huge imbalance", "1e21", "1"},
		{"dust reserve", "1", "1e-18"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultSettings())
			h.createPair(xWETH, tokenX, weth)
			h.advance(12)
			h.sync(xWETH, units(tt.reserve0, 18), units(tt.reserve1, 18))

			pair := get[aggregator.Pair](h, aggregator.KindPair, xWETH)
			require.False(t, pair.Token0Price.IsZero())
			require.False(t, pair.Token1Price.IsZero())

			product := pair.Token0Price.Mul(pair.Token1Price)
			assert.True(t, product.Sub(dec("1")).Abs().LessThan(dec("1e-30")),
				"token0Price %s * token1Price %s = %s", pair.Token0Price, pair.Token1Price, product)
		})
	}
}

func TestSyncKeepsTinyDerivedPrices(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.seedMarket()

	h.advance(12)
	h.sync(xWETH, units("1e21", 18), units("1", 18))

	pair := get[aggregator.Pair](h, aggregator.KindPair, xWETH)
	assertDecimal(t, "1e21", pair.Token0Price)
	assertDecimal(t, "1e-21", pair.Token1Price)

	x := get[aggregator.Token](h, aggregator.KindToken, tokenX)
	assertDecimal(t, "1e-21", x.DerivedETH)
}

func TestSyncDerivesPricesAndLiquidity(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.seedMarket()

	assertDecimal(t, "1", get[aggregator.Token](h, aggregator.KindToken, weth).DerivedETH)
	assertDecimal(t, "0.0005", get[aggregator.Token](h, aggregator.KindToken, usdc).DerivedETH)
	assertDecimal(t, "0.05", get[aggregator.Token](h, aggregator.KindToken, tokenX).DerivedETH)

	stable := get[aggregator.Pair](h, aggregator.KindPair, wethUSDC)
	assertDecimal(t, "20", stable.TrackedReserveETH)
	assertDecimal(t, "20", stable.ReserveETH)
	assertDecimal(t, "40000", stable.ReserveUSD)

	// Only the WETH side is whitelisted, so it counts double.
	volatile := get[aggregator.Pair](h, aggregator.KindPair, xWETH)
	assertDecimal(t, "10", volatile.TrackedReserveETH)
	assertDecimal(t, "10", volatile.ReserveETH)
	assertDecimal(t, "20000", volatile.ReserveUSD)

	factory := get[aggregator.Factory](h, aggregator.KindFactory, factoryAddr)
	assertDecimal(t, "30", factory.TotalLiquidityETH)
	assertDecimal(t, "60000", factory.TotalLiquidityUSD)
	assert.Equal(t, uint64(2), factory.PairCount)

	assertDecimal(t, "15", get[aggregator.Token](h, aggregator.KindToken, weth).TotalLiquidity)
	assertDecimal(t, "100", get[aggregator.Token](h, aggregator.KindToken, tokenX).TotalLiquidity)
}

func TestSyncReplacesPreviousContribution(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.seedMarket()

	h.advance(12)
	h.sync(xWETH, units("50", 18), units("2.5", 18))

	factory := get[aggregator.Factory](h, aggregator.KindFactory, factoryAddr)
	// 20 from the stable pool plus 2.5 WETH counted double.
	assertDecimal(t, "25", factory.TotalLiquidityETH)

	assertDecimal(t, "12.5", get[aggregator.Token](h, aggregator.KindToken, weth).TotalLiquidity)
	assertDecimal(t, "50", get[aggregator.Token](h, aggregator.KindToken, tokenX).TotalLiquidity)
}

func TestSyncInProblematicBlockLeavesStateUntouched(t *testing.T) {
	s := defaultSettings()
	s.ProblematicBlocks = []uint64{500}
	h := newHarness(t, s)
	h.seedMarket()
	before := domainDump(h.store)

	h.block = 500
	h.sync(xWETH, units("1", 18), units("1", 18))
	assert.Equal(t, before, domainDump(h.store), "state must be byte-for-byte identical")

	cursor, ok, err := h.agg.Cursor(h.ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(500), cursor.BlockNumber)
}

func TestSyncOnUnknownPairIsIgnored(t *testing.T) {
	h := newHarness(t, defaultSettings())
	h.seedMarket()
	before := domainDump(h.store)

	h.advance(12)
	h.sync(daiWETH, units("1", 18), units("1", 18))

	assert.Equal(t, before, domainDump(h.store))
}
