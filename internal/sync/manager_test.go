package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/uniswapv2"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/processor"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/rpc"
)

var (
	factory  = common.HexToAddress("0xf000000000000000000000000000000000000001")
	oldPair  = common.HexToAddress("0xa000000000000000000000000000000000000001")
	newPair  = common.HexToAddress("0xa000000000000000000000000000000000000002")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	txCreate = common.HexToHash("0x01")
	txSwap   = common.HexToHash("0x02")
)

type logQuery struct {
	from, to  uint64
	addresses []common.Address
}

// chain serves logs filtered the way eth_getLogs would.
type chain struct {
	mu      gosync.Mutex
	head    uint64
	logs    []types.Log
	queries []logQuery
	fetched [][]uint64
	failGet int
}

func (c *chain) GetLatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *chain) GetLogs(_ context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failGet > 0 {
		c.failGet--
		return nil, errors.New("rate limited")
	}
	c.queries = append(c.queries, logQuery{from: from, to: to, addresses: append([]common.Address(nil), addresses...)})

	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if !containsAddress(addresses, log.Address) || !containsHash(topics, log.Topics[0]) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (c *chain) BlockContexts(_ context.Context, numbers []uint64) (map[uint64]rpc.BlockContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, numbers)

	contexts := make(map[uint64]rpc.BlockContext, len(numbers))
	for _, n := range numbers {
		contexts[n] = rpc.BlockContext{
			Timestamp: 1_700_000_000 + n,
			Senders:   map[common.Hash]common.Address{txSwap: alice},
		}
	}
	return contexts, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

// sink is a processor stand-in that records every batch.
type sink struct {
	batches [][]*core.RawEvent
	cursor  aggregator.Cursor
	found   bool
	err     error
}

func (s *sink) Process(_ context.Context, events []*core.RawEvent) (processor.Stats, error) {
	if s.err != nil {
		return processor.Stats{}, s.err
	}
	s.batches = append(s.batches, events)
	if n := len(events); n > 0 {
		last := events[n-1].Log
		s.cursor, s.found = aggregator.Cursor{BlockNumber: last.BlockNumber, LogIndex: uint64(last.Index)}, true
	}
	return processor.Stats{Routed: len(events)}, nil
}

func (s *sink) Position(context.Context) (aggregator.Cursor, bool, error) {
	return s.cursor, s.found, nil
}

func (s *sink) all() []*core.RawEvent {
	var out []*core.RawEvent
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

type pairIDs []string

func (p pairIDs) IDs(_ context.Context, kind string) ([]string, error) {
	if kind != aggregator.KindPair {
		return nil, nil
	}
	return p, nil
}

func pairCreatedLog(block uint64, index uint, pair common.Address) types.Log {
	data := make([]byte, 64)
	copy(data[12:32], pair.Bytes())
	return types.Log{
		Address:     factory,
		Topics:      []common.Hash{uniswapv2.PairCreatedTopic, {}, {}},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      txCreate,
	}
}

func pairLog(block uint64, index uint, pair common.Address, topic common.Hash) types.Log {
	return types.Log{
		Address:     pair,
		Topics:      []common.Hash{topic},
		BlockNumber: block,
		Index:       index,
		TxHash:      txSwap,
	}
}

func newTestManager(c *chain, s *sink, pairs pairIDs, cfg Config) *Manager {
	cfg.Factory = factory
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	return NewManager(c, s, pairs, cfg, zerolog.Nop())
}

func TestBackfillIncludesLogsOfPairsCreatedInRange(t *testing.T) {
	c := &chain{
		head: 120,
		logs: []types.Log{
			pairLog(105, 2, oldPair, uniswapv2.SwapTopic),
			pairCreatedLog(110, 0, newPair),
			pairLog(110, 3, newPair, uniswapv2.SyncTopic),
			pairLog(110, 1, newPair, uniswapv2.TransferTopic),
			{Address: newPair, Topics: []common.Hash{uniswapv2.SwapTopic}, BlockNumber: 111, Removed: true},
		},
	}
	s := &sink{}
	m := newTestManager(c, s, pairIDs{"0xa000000000000000000000000000000000000001"}, Config{StartBlock: 100, BatchSize: 50})

	require.NoError(t, m.Backfill(context.Background(), 100, 120))

	events := s.all()
	require.Len(t, events, 4)
	var order [][2]uint64
	for _, e := range events {
		order = append(order, [2]uint64{e.Log.BlockNumber, uint64(e.Log.Index)})
	}
	assert.Equal(t, [][2]uint64{{105, 2}, {110, 0}, {110, 1}, {110, 3}}, order)

	assert.Equal(t, uint64(1_700_000_105), events[0].Timestamp)
	assert.Equal(t, alice, events[0].From)
	assert.Equal(t, common.Address{}, events[1].From)

	// The factory is queried first, then known and new pairs together.
	require.Len(t, c.queries, 2)
	assert.Equal(t, []common.Address{factory}, c.queries[0].addresses)
	assert.Equal(t, []common.Address{oldPair, newPair}, c.queries[1].addresses)

	status := m.GetStatus()
	assert.Equal(t, 2, status.KnownPairs)
	assert.Equal(t, uint64(121), status.NextBlock)
	assert.Zero(t, status.BehindBy)
}

func TestSyncChunksPairAddresses(t *testing.T) {
	pairs := pairIDs{
		"0xa000000000000000000000000000000000000001",
		"0xa000000000000000000000000000000000000003",
		"0xa000000000000000000000000000000000000004",
	}
	c := &chain{head: 10}
	s := &sink{}
	m := newTestManager(c, s, pairs, Config{AddressChunk: 2, BatchSize: 100})

	require.NoError(t, m.Backfill(context.Background(), 0, 10))

	require.Len(t, c.queries, 3)
	assert.Len(t, c.queries[1].addresses, 2)
	assert.Len(t, c.queries[2].addresses, 1)
	assert.Empty(t, c.fetched, "no block contexts are fetched for empty ranges")
}

func TestBackfillSplitsIntoBatches(t *testing.T) {
	c := &chain{head: 1000}
	s := &sink{}
	m := newTestManager(c, s, nil, Config{BatchSize: 10})

	require.NoError(t, m.Backfill(context.Background(), 20, 44))

	var ranges [][2]uint64
	for _, q := range c.queries {
		ranges = append(ranges, [2]uint64{q.from, q.to})
	}
	assert.Equal(t, [][2]uint64{{20, 29}, {30, 39}, {40, 44}}, ranges)
	assert.Equal(t, uint64(45), m.GetStatus().NextBlock)
}

func TestBackfillResumesFromCursor(t *testing.T) {
	c := &chain{
		head: 60,
		logs: []types.Log{pairLog(50, 4, oldPair, uniswapv2.SyncTopic)},
	}
	s := &sink{cursor: aggregator.Cursor{BlockNumber: 50, LogIndex: 2}, found: true}
	m := newTestManager(c, s, pairIDs{"0xa000000000000000000000000000000000000001"}, Config{StartBlock: 10, BatchSize: 100})

	require.NoError(t, m.Backfill(context.Background(), 0, 60))

	require.NotEmpty(t, c.queries)
	assert.Equal(t, uint64(50), c.queries[0].from)
	require.Len(t, s.all(), 1)
}

func TestBackfillRetriesFailedRanges(t *testing.T) {
	c := &chain{head: 5, failGet: 2}
	s := &sink{}
	m := newTestManager(c, s, nil, Config{BatchSize: 10, MaxRetries: 3})

	require.NoError(t, m.Backfill(context.Background(), 0, 5))
	assert.Equal(t, uint64(6), m.GetStatus().NextBlock)

	c.failGet = 5
	m = newTestManager(c, s, nil, Config{BatchSize: 10, MaxRetries: 2})
	err := m.Backfill(context.Background(), 0, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestSinkFailureKeepsPairsUnknown(t *testing.T) {
	c := &chain{
		head: 10,
		logs: []types.Log{pairCreatedLog(5, 0, newPair)},
	}
	s := &sink{err: errors.New("store down")}
	m := newTestManager(c, s, nil, Config{BatchSize: 100, MaxRetries: 1})

	require.Error(t, m.Backfill(context.Background(), 0, 10))
	assert.Zero(t, m.GetStatus().KnownPairs)
	assert.Zero(t, m.GetStatus().NextBlock)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := &chain{head: 3}
	s := &sink{}
	m := newTestManager(c, s, nil, Config{BatchSize: 100})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		status := m.GetStatus()
		return status.NextBlock == 4 && !status.IsSyncing
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCreatedPairRejectsShortData(t *testing.T) {
	_, ok := createdPair(types.Log{Topics: []common.Hash{uniswapv2.PairCreatedTopic}, Data: []byte{1}})
	assert.False(t, ok)

	pair, ok := createdPair(pairCreatedLog(1, 0, newPair))
	require.True(t, ok)
	assert.Equal(t, newPair, pair)
}
