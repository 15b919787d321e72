package uniswapv2

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/database"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
)

var (
	factory  = common.HexToAddress("0xf000000000000000000000000000000000000001")
	weth     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	wethUSDC = common.HexToAddress("0xa000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0xb000000000000000000000000000000000000001")
	router   = common.HexToAddress("0xc000000000000000000000000000000000000001")
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

func testManifest() *core.Manifest {
	return &core.Manifest{
		Name:    "elk-v2",
		Version: "1.0.0",
		DataSources: []core.DataSource{{
			Kind:    "ethereum/contract",
			Name:    "Factory",
			Network: "ethereum",
			Source: core.DataSourceSource{
				Address:    str(factory.Hex()),
				ABI:        "Factory",
				StartBlock: u64(42),
			},
			Mapping: core.DataSourceMapping{
				Kind: "ethereum/events",
				EventHandlers: []core.EventHandler{
					{Event: "PairCreated(indexed address,indexed address,address,uint256)", Handler: "handleNewPair"},
				},
			},
		}},
		Context: map[string]interface{}{
			"factoryAddress":   factory.Hex(),
			"wrappedNative":    weth.Hex(),
			"whitelist":        []interface{}{weth.Hex(), usdc.Hex()},
			"fallbackEthPrice": "1",
			"stablePools": []interface{}{
				map[string]interface{}{"address": wethUSDC.Hex(), "stableToken": "token1"},
			},
		},
	}
}

type tokenBook map[string]aggregator.TokenInfo

func (b tokenBook) TokenInfo(_ context.Context, address string) (aggregator.TokenInfo, error) {
	info, ok := b[address]
	if !ok {
		return aggregator.TokenInfo{}, aggregator.ErrMissingDecimals
	}
	return info, nil
}

type recordedOutcome struct {
	event   string
	outcome string
}

type metricsRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (r *metricsRecorder) ObserveEvent(event, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, recordedOutcome{event: event, outcome: outcome})
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *database.MemoryStore
	module  *Module
	metrics *metricsRecorder

	block    uint64
	logIndex uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	manifest := testManifest()
	settings, err := LoadSettings(manifest)
	require.NoError(t, err)
	cfg, err := aggregator.NewConfig(settings)
	require.NoError(t, err)

	store := database.NewMemoryStore()
	agg := aggregator.New(cfg, store, testLogger(), aggregator.WithTokenMetadata(tokenBook{
		hexAddress(weth): {Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		hexAddress(usdc): {Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	}))

	metrics := &metricsRecorder{}
	module, err := New(manifest, agg, testLogger(), WithMetrics(metrics))
	require.NoError(t, err)

	return &fixture{t: t, ctx: context.Background(), store: store, module: module, metrics: metrics, block: 100}
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// pack builds a log for event name of the pair or factory ABI.
func (f *fixture) pack(address common.Address, name string, tx common.Hash, indexed []common.Address, data ...interface{}) *core.RawEvent {
	f.t.Helper()

	event, ok := f.module.pairABI.Events[name]
	if !ok {
		event, ok = f.module.factoryABI.Events[name]
	}
	require.True(f.t, ok, "unknown event %s", name)

	encoded, err := event.Inputs.NonIndexed().Pack(data...)
	require.NoError(f.t, err)

	topics := []common.Hash{event.ID}
	for _, addr := range indexed {
		topics = append(topics, addressTopic(addr))
	}

	f.logIndex++
	return &core.RawEvent{
		Log: &types.Log{
			Address:     address,
			Topics:      topics,
			Data:        encoded,
			BlockNumber: f.block,
			TxHash:      tx,
			Index:       f.logIndex,
		},
		Timestamp: 1_700_000_000 + f.block,
		From:      alice,
	}
}

func (f *fixture) handle(raw *core.RawEvent) {
	f.t.Helper()
	require.NoError(f.t, f.module.HandleEvent(f.ctx, raw))
}

func (f *fixture) pair() *aggregator.Pair {
	f.t.Helper()
	var pair aggregator.Pair
	found, err := f.store.Load(f.ctx, aggregator.KindPair, hexAddress(wethUSDC), &pair)
	require.NoError(f.t, err)
	require.True(f.t, found)
	return &pair
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func dollars(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func TestTopicsMatchABI(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, PairCreatedTopic, f.module.factoryABI.Events["PairCreated"].ID)
	assert.Equal(t, SwapTopic, f.module.pairABI.Events["Swap"].ID)
	assert.Equal(t, SyncTopic, f.module.pairABI.Events["Sync"].ID)
	assert.Equal(t, MintTopic, f.module.pairABI.Events["Mint"].ID)
	assert.Equal(t, BurnTopic, f.module.pairABI.Events["Burn"].ID)
	assert.Equal(t, TransferTopic, f.module.pairABI.Events["Transfer"].ID)
}

func TestModuleIdentity(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "elk-v2", f.module.Name())
	assert.Equal(t, "1.0.0", f.module.Version())
	assert.Equal(t, uint64(42), f.module.GetStartBlock())

	filters := f.module.GetEventFilters()
	require.Len(t, filters, 1+len(PairTopics))
	assert.Equal(t, core.EventFilter{Address: factory.Hex(), Topic0: PairCreatedTopic.Hex()}, filters[0])
	for i, topic := range PairTopics {
		assert.Empty(t, filters[i+1].Address)
		assert.Equal(t, topic.Hex(), filters[i+1].Topic0)
	}
}

func TestNewRejectsMismatchedFactory(t *testing.T) {
	manifest := testManifest()
	settings, err := LoadSettings(manifest)
	require.NoError(t, err)
	cfg, err := aggregator.NewConfig(settings)
	require.NoError(t, err)
	agg := aggregator.New(cfg, database.NewMemoryStore(), testLogger())

	manifest.DataSources[0].Source.Address = str(router.Hex())
	_, err = New(manifest, agg, testLogger())
	require.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	settings, err := LoadSettings(testManifest())
	require.NoError(t, err)

	assert.Equal(t, factory.Hex(), settings.FactoryAddress)
	assert.Equal(t, weth.Hex(), settings.WrappedNative)
	assert.Equal(t, []string{weth.Hex(), usdc.Hex()}, settings.Whitelist)
	require.Len(t, settings.StablePools, 1)
	assert.False(t, settings.StablePools[0].StableIsToken0())
}

func TestHandleEventAppliesPoolLifecycle(t *testing.T) {
	f := newFixture(t)
	createTx := common.HexToHash("0x01")
	mintTx := common.HexToHash("0x02")

	f.handle(f.pack(factory, "PairCreated", createTx, []common.Address{weth, usdc}, wethUSDC, big.NewInt(1)))

	pair := f.pair()
	assert.Equal(t, hexAddress(weth), pair.Token0)
	assert.Equal(t, hexAddress(usdc), pair.Token1)
	assert.Equal(t, uint64(100), pair.CreatedAtBlockNumber)

	f.block++
	f.handle(f.pack(wethUSDC, "Transfer", mintTx, []common.Address{{}, {}}, big.NewInt(1000)))
	f.handle(f.pack(wethUSDC, "Transfer", mintTx, []common.Address{{}, alice}, ether(100)))
	f.handle(f.pack(wethUSDC, "Sync", mintTx, nil, ether(10), dollars(20000)))
	f.handle(f.pack(wethUSDC, "Mint", mintTx, []common.Address{router}, ether(10), dollars(20000)))

	pair = f.pair()
	assert.True(t, decimal.NewFromInt(10).Equal(pair.Reserve0), "reserve0 %s", pair.Reserve0)
	assert.True(t, decimal.NewFromInt(20000).Equal(pair.Reserve1), "reserve1 %s", pair.Reserve1)
	assert.True(t, decimal.NewFromInt(2000).Equal(pair.Token1Price), "token1Price %s", pair.Token1Price)
	assert.True(t, decimal.NewFromInt(100).Equal(pair.TotalSupply), "totalSupply %s", pair.TotalSupply)
	assert.Equal(t, uint64(1), pair.TxCount)

	var mint aggregator.MintEvent
	found, err := f.store.Load(f.ctx, aggregator.KindMint, mintTx.Hex()+"-0", &mint)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hexAddress(router), mint.Sender)
	assert.Equal(t, hexAddress(alice), mint.To)

	var cursor aggregator.Cursor
	found, err = f.store.Load(f.ctx, aggregator.KindCursor, aggregator.CursorID, &cursor)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, aggregator.Cursor{BlockNumber: 101, LogIndex: 5}, cursor)

	for _, o := range f.metrics.outcomes {
		assert.Equal(t, OutcomeApplied, o.outcome, o.event)
	}
	assert.Len(t, f.metrics.outcomes, 5)
}

func TestHandleEventSwapCarriesSender(t *testing.T) {
	f := newFixture(t)
	tx := common.HexToHash("0x03")

	f.handle(f.pack(factory, "PairCreated", tx, []common.Address{weth, usdc}, wethUSDC, big.NewInt(1)))
	f.block++
	f.handle(f.pack(wethUSDC, "Sync", tx, nil, ether(10), dollars(20000)))
	f.handle(f.pack(wethUSDC, "Swap", tx, []common.Address{router, alice},
		ether(1), big.NewInt(0), big.NewInt(0), dollars(1800)))

	var swap aggregator.SwapEvent
	found, err := f.store.Load(f.ctx, aggregator.KindSwap, tx.Hex()+"-0", &swap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hexAddress(router), swap.Sender)
	assert.Equal(t, hexAddress(alice), swap.To)
	assert.Equal(t, hexAddress(alice), swap.From)
	assert.True(t, decimal.NewFromInt(1).Equal(swap.Amount0In))
	assert.True(t, decimal.NewFromInt(1800).Equal(swap.Amount1Out))
}

func TestHandleEventDropsMalformedLogs(t *testing.T) {
	f := newFixture(t)

	raw := f.pack(wethUSDC, "Sync", common.HexToHash("0x04"), nil, ether(1), ether(1))
	raw.Log.Data = raw.Log.Data[:20]

	require.NoError(t, f.module.HandleEvent(f.ctx, raw))

	require.Len(t, f.metrics.outcomes, 1)
	assert.Equal(t, recordedOutcome{event: "Sync", outcome: OutcomeMalformed}, f.metrics.outcomes[0])
	assert.Empty(t, f.store.Dump())
}

func TestHandleEventDropsWrongTopicCount(t *testing.T) {
	f := newFixture(t)

	raw := f.pack(wethUSDC, "Transfer", common.HexToHash("0x05"), []common.Address{alice, router}, big.NewInt(1))
	raw.Log.Topics = raw.Log.Topics[:2]

	require.NoError(t, f.module.HandleEvent(f.ctx, raw))
	require.Len(t, f.metrics.outcomes, 1)
	assert.Equal(t, OutcomeMalformed, f.metrics.outcomes[0].outcome)
}

func TestHandleEventIgnoresUnhandledTopics(t *testing.T) {
	f := newFixture(t)

	raw := &core.RawEvent{Log: &types.Log{
		Address: wethUSDC,
		Topics:  []common.Hash{common.HexToHash("0xdeadbeef")},
	}}
	require.NoError(t, f.module.HandleEvent(f.ctx, raw))

	require.NoError(t, f.module.HandleEvent(f.ctx, &core.RawEvent{Log: &types.Log{Address: wethUSDC}}))
	assert.Empty(t, f.metrics.outcomes)
}

func TestEventMetaLowercasesAddresses(t *testing.T) {
	event := &core.ParsedEvent{
		Address:         common.HexToAddress("0xAbCdEf0000000000000000000000000000000001"),
		TransactionHash: common.HexToHash("0x0a"),
		BlockNumber:     7,
		LogIndex:        3,
		Timestamp:       99,
	}

	meta := eventMeta(event)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", meta.Address)
	assert.Empty(t, meta.TxFrom)
	assert.Equal(t, uint64(3), meta.LogIndex)
	assert.Equal(t, uint64(99), meta.Timestamp)
}

func TestMissingArgumentIsMalformed(t *testing.T) {
	args := argReader{event: &core.ParsedEvent{EventName: "Sync", Args: map[string]interface{}{}}}
	args.bigInt("reserve0")
	args.bigInt("reserve1")

	var malformed errMalformedArgs
	require.ErrorAs(t, args.err, &malformed)
	assert.Equal(t, "reserve0", malformed.Arg)
}
