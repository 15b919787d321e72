package aggregator_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/database"
)

const (
	factoryAddr = "0xf000000000000000000000000000000000000001"
	weth        = "0x1000000000000000000000000000000000000001"
	usdc        = "0x2000000000000000000000000000000000000002"
	dai         = "0x3000000000000000000000000000000000000003"
	tokenX      = "0x4000000000000000000000000000000000000004"
	wethUSDC    = "0xa000000000000000000000000000000000000001"
	daiWETH     = "0xa000000000000000000000000000000000000002"
	xWETH       = "0xa000000000000000000000000000000000000003"
	alice       = "0xb000000000000000000000000000000000000001"
	bob         = "0xb000000000000000000000000000000000000002"
	feeSink     = "0xb000000000000000000000000000000000000003"
	router      = "0xc000000000000000000000000000000000000001"

	baseTimestamp = uint64(1_700_000_000)
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// tokenBook serves ERC20 metadata from a map.
type tokenBook map[string]aggregator.TokenInfo

func (b tokenBook) TokenInfo(_ context.Context, address string) (aggregator.TokenInfo, error) {
	info, ok := b[address]
	if !ok {
		return aggregator.TokenInfo{}, aggregator.ErrMissingDecimals
	}
	return info, nil
}

func defaultTokens() tokenBook {
	return tokenBook{
		weth:   {Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		usdc:   {Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		dai:    {Symbol: "DAI", Name: "Dai", Decimals: 18},
		tokenX: {Symbol: "X", Name: "Token X", Decimals: 18},
	}
}

func defaultSettings() aggregator.Settings {
	return aggregator.Settings{
		FactoryAddress:   factoryAddr,
		WrappedNative:    weth,
		StablePools:      []aggregator.StablePool{{Address: wethUSDC, StableToken: "token1"}},
		Whitelist:        []string{weth, usdc, dai},
		FallbackETHPrice: "1",
	}
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	cfg   *aggregator.Config
	store *database.MemoryStore
	agg   *aggregator.Aggregator

	block    uint64
	ts       uint64
	logIndex uint64
}

func newHarness(t *testing.T, settings aggregator.Settings, opts ...aggregator.Option) *harness {
	t.Helper()
	cfg, err := aggregator.NewConfig(settings)
	require.NoError(t, err)

	store := database.NewMemoryStore()
	opts = append([]aggregator.Option{aggregator.WithTokenMetadata(defaultTokens())}, opts...)

	return &harness{
		t:     t,
		ctx:   context.Background(),
		cfg:   cfg,
		store: store,
		agg:   aggregator.New(cfg, store, testLogger(), opts...),
		block: 100,
		ts:    baseTimestamp,
	}
}

// advance moves to a later block.
func (h *harness) advance(seconds uint64) {
	h.block++
	h.ts += seconds
	h.logIndex = 0
}

func (h *harness) meta(address, tx string) aggregator.EventMeta {
	h.logIndex++
	return aggregator.EventMeta{
		Address:     address,
		BlockNumber: h.block,
		Timestamp:   h.ts,
		TxHash:      tx,
		TxFrom:      alice,
		LogIndex:    h.logIndex,
	}
}

func (h *harness) apply(ev aggregator.Event) {
	h.t.Helper()
	require.NoError(h.t, h.agg.Apply(h.ctx, ev))
}

func (h *harness) createPair(pair, token0, token1 string) {
	h.t.Helper()
	h.apply(aggregator.PairCreatedLog{
		EventMeta: h.meta(factoryAddr, "0xcreate"+pair[2:10]),
		Token0:    token0,
		Token1:    token1,
		Pair:      pair,
	})
}

func (h *harness) sync(pair string, reserve0, reserve1 *big.Int) {
	h.t.Helper()
	h.apply(aggregator.SyncLog{
		EventMeta: h.meta(pair, "0xsync"),
		Reserve0:  reserve0,
		Reserve1:  reserve1,
	})
}

func (h *harness) transfer(pair, tx, from, to string, value *big.Int) {
	h.t.Helper()
	h.apply(aggregator.TransferLog{
		EventMeta: h.meta(pair, tx),
		From:      from,
		To:        to,
		Value:     value,
	})
}

// seedMarket creates the WETH/USDC and X/WETH pools and syncs each twice so
// every token has a derived price:
//
//	WETH/USDC: 10 WETH, 20000 USDC -> ETH = $2000, USDC = 0.0005 ETH
//	X/WETH:    100 X, 5 WETH       -> X = 0.05 ETH
func (h *harness) seedMarket() {
	h.t.Helper()
	h.createPair(wethUSDC, weth, usdc)
	h.createPair(xWETH, tokenX, weth)
	for i := 0; i < 2; i++ {
		h.advance(12)
		h.sync(wethUSDC, units("10", 18), units("20000", 6))
		h.sync(xWETH, units("100", 18), units("5", 18))
	}
}

func get[T any](h *harness, kind, id string) *T {
	h.t.Helper()
	var v T
	found, err := h.store.Load(h.ctx, kind, id, &v)
	require.NoError(h.t, err)
	require.True(h.t, found, "%s %s not found", kind, id)
	return &v
}

func exists(h *harness, kind, id string) bool {
	h.t.Helper()
	var v map[string]any
	found, err := h.store.Load(h.ctx, kind, id, &v)
	require.NoError(h.t, err)
	return found
}

// units converts a human amount into raw on-chain units.
func units(amount string, decimals int32) *big.Int {
	return decimal.RequireFromString(amount).Shift(decimals).BigInt()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// domainDump is the store contents without the feed cursor.
func domainDump(store *database.MemoryStore) map[string]map[string]string {
	dump := store.Dump()
	delete(dump, aggregator.KindCursor)
	return dump
}
