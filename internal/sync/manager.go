package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/uniswapv2"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/processor"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/rpc"
)

// LogSource is the chain access the manager needs.
type LogSource interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash) ([]types.Log, error)
	BlockContexts(ctx context.Context, numbers []uint64) (map[uint64]rpc.BlockContext, error)
}

// EventSink applies ordered batches and reports how far it got.
type EventSink interface {
	Process(ctx context.Context, events []*core.RawEvent) (processor.Stats, error)
	Position(ctx context.Context) (aggregator.Cursor, bool, error)
}

// PairSource lists the pairs indexed so far.
type PairSource interface {
	IDs(ctx context.Context, kind string) ([]string, error)
}

type Config struct {
	Factory      common.Address
	BatchSize    int
	AddressChunk int
	RetryDelay   time.Duration
	PollInterval time.Duration
	MaxRetries   int
	StartBlock   uint64
}

// Manager polls the chain for factory and pair logs and feeds them to the sink
// in (block, log index) order.
type Manager struct {
	source LogSource
	sink   EventSink
	pairs  PairSource
	cfg    Config
	logger zerolog.Logger

	mu sync.RWMutex
	// known pair addresses; written under mu by the sync goroutine only
	known            map[common.Address]struct{}
	next             uint64
	latestChainBlock uint64
	isSyncing        bool
}

// Status is a snapshot of sync progress.
type Status struct {
	IsSyncing  bool   `json:"is_syncing"`
	NextBlock  uint64 `json:"next_block"`
	ChainTip   uint64 `json:"chain_tip"`
	BehindBy   uint64 `json:"behind_by"`
	KnownPairs int    `json:"known_pairs"`
}

func NewManager(source LogSource, sink EventSink, pairs PairSource, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.AddressChunk <= 0 {
		cfg.AddressChunk = 500
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Manager{
		source: source,
		sink:   sink,
		pairs:  pairs,
		cfg:    cfg,
		logger: logger.With().Str("component", "sync_manager").Logger(),
	}
}

// initialize resumes at the cursor block, whose remaining logs may not have
// been applied yet, or at the start block on a fresh store.
func (m *Manager) initialize(ctx context.Context) error {
	if m.known != nil {
		return nil
	}

	ids, err := m.pairs.IDs(ctx, aggregator.KindPair)
	if err != nil {
		return fmt.Errorf("failed to load indexed pairs: %w", err)
	}
	known := make(map[common.Address]struct{}, len(ids))
	for _, id := range ids {
		known[common.HexToAddress(id)] = struct{}{}
	}

	cursor, found, err := m.sink.Position(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.known = known
	m.next = m.cfg.StartBlock
	if found && cursor.BlockNumber > m.next {
		m.next = cursor.BlockNumber
	}

	m.logger.Info().
		Uint64("block", m.next).
		Int("pairs", len(known)).
		Bool("resumed", found).
		Msg("Sync position initialized")
	return nil
}

// Run follows the chain until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Msg("Starting sync manager")

	for {
		if err := m.initialize(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Failed to initialize sync state")
			if !sleep(ctx, m.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		caughtUp, err := m.step(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info().Msg("Sync manager stopped")
				return nil
			}
			m.logger.Error().Err(err).Msg("Failed to sync range, retrying")
			if !sleep(ctx, m.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		if caughtUp && !sleep(ctx, m.cfg.PollInterval) {
			m.logger.Info().Msg("Sync manager stopped")
			return nil
		}
	}
}

// Backfill syncs [from, to] once, retrying each range up to MaxRetries times.
func (m *Manager) Backfill(ctx context.Context, from, to uint64) error {
	if err := m.initialize(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if from > m.next {
		m.next = from
	}
	m.mu.Unlock()

	for {
		m.mu.RLock()
		next := m.next
		m.mu.RUnlock()
		if next > to {
			return nil
		}

		var (
			caughtUp bool
			lastErr  error
		)
		for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
			if caughtUp, lastErr = m.step(ctx, to); lastErr == nil {
				break
			}
			m.logger.Warn().
				Err(lastErr).
				Uint64("block", next).
				Int("attempt", attempt+1).
				Msg("Failed to sync range, retrying")

			delay := m.cfg.RetryDelay * time.Duration(1<<attempt)
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
		}
		if lastErr != nil {
			return fmt.Errorf("failed to backfill from block %d: %w", next, lastErr)
		}

		// The chain has not reached the end of the range yet.
		m.mu.RLock()
		waiting := caughtUp && m.next == next
		m.mu.RUnlock()
		if waiting && !sleep(ctx, m.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// step syncs the next range, capped at limit when limit is nonzero. It
// reports whether the manager has caught up with the chain.
func (m *Manager) step(ctx context.Context, limit uint64) (bool, error) {
	head, err := m.source.GetLatestBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	if limit > 0 && limit < head {
		head = limit
	}

	m.mu.Lock()
	m.latestChainBlock = head
	from := m.next
	m.mu.Unlock()

	if from > head {
		m.setSyncing(false)
		return true, nil
	}
	m.setSyncing(true)

	to := from + uint64(m.cfg.BatchSize) - 1
	if to > head {
		to = head
	}

	started := time.Now()
	stats, err := m.syncRange(ctx, from, to)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.next = to + 1
	m.mu.Unlock()

	m.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Uint64("behind_by", head-to).
		Int("routed", stats.Routed).
		Int("skipped", stats.Skipped).
		Dur("duration", time.Since(started)).
		Msg("Synced range")

	return to == head, nil
}

// syncRange fetches and applies the logs of [from, to]. Factory logs are
// fetched first so pairs created in the range have their own logs included.
func (m *Manager) syncRange(ctx context.Context, from, to uint64) (processor.Stats, error) {
	created, err := m.source.GetLogs(ctx, from, to, []common.Address{m.cfg.Factory}, []common.Hash{uniswapv2.PairCreatedTopic})
	if err != nil {
		return processor.Stats{}, err
	}

	var newPairs []common.Address
	for _, log := range created {
		if pair, ok := createdPair(log); ok {
			if _, exists := m.known[pair]; !exists {
				newPairs = append(newPairs, pair)
			}
		}
	}

	addresses := m.pairAddresses(newPairs)
	logs := append([]types.Log(nil), created...)
	for start := 0; start < len(addresses); start += m.cfg.AddressChunk {
		end := start + m.cfg.AddressChunk
		if end > len(addresses) {
			end = len(addresses)
		}
		chunk, err := m.source.GetLogs(ctx, from, to, addresses[start:end], uniswapv2.PairTopics)
		if err != nil {
			return processor.Stats{}, err
		}
		logs = append(logs, chunk...)
	}

	events, err := m.attachContexts(ctx, logs)
	if err != nil {
		return processor.Stats{}, err
	}

	stats, err := m.sink.Process(ctx, events)
	if err != nil {
		return stats, err
	}

	m.mu.Lock()
	for _, pair := range newPairs {
		m.known[pair] = struct{}{}
	}
	m.mu.Unlock()
	return stats, nil
}

func (m *Manager) pairAddresses(extra []common.Address) []common.Address {
	addresses := make([]common.Address, 0, len(m.known)+len(extra))
	for addr := range m.known {
		addresses = append(addresses, addr)
	}
	addresses = append(addresses, extra...)
	sort.Slice(addresses, func(i, j int) bool {
		return strings.Compare(addresses[i].Hex(), addresses[j].Hex()) < 0
	})
	return addresses
}

// attachContexts pairs each log with its block timestamp and transaction sender.
func (m *Manager) attachContexts(ctx context.Context, logs []types.Log) ([]*core.RawEvent, error) {
	seen := make(map[uint64]struct{})
	var numbers []uint64
	events := make([]*core.RawEvent, 0, len(logs))

	for i := range logs {
		if logs[i].Removed {
			continue
		}
		if _, ok := seen[logs[i].BlockNumber]; !ok {
			seen[logs[i].BlockNumber] = struct{}{}
			numbers = append(numbers, logs[i].BlockNumber)
		}
		events = append(events, &core.RawEvent{Log: &logs[i]})
	}
	if len(events) == 0 {
		return nil, nil
	}

	contexts, err := m.source.BlockContexts(ctx, numbers)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		blockCtx, ok := contexts[event.Log.BlockNumber]
		if !ok {
			return nil, fmt.Errorf("missing context for block %d", event.Log.BlockNumber)
		}
		event.Timestamp = blockCtx.Timestamp
		event.From = blockCtx.Senders[event.Log.TxHash]
	}

	processor.SortEvents(events)
	return events, nil
}

// createdPair extracts the pair address, the first data word of PairCreated.
func createdPair(log types.Log) (common.Address, bool) {
	if len(log.Topics) == 0 || log.Topics[0] != uniswapv2.PairCreatedTopic || len(log.Data) < 32 {
		return common.Address{}, false
	}
	return common.BytesToAddress(log.Data[12:32]), true
}

func (m *Manager) setSyncing(syncing bool) {
	m.mu.Lock()
	m.isSyncing = syncing
	m.mu.Unlock()
}

// GetStatus returns current sync status
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var behind uint64
	if m.latestChainBlock+1 > m.next {
		behind = m.latestChainBlock + 1 - m.next
	}
	return Status{
		IsSyncing:  m.isSyncing,
		NextBlock:  m.next,
		ChainTip:   m.latestChainBlock,
		BehindBy:   behind,
		KnownPairs: len(m.known),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
