package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/modules/core"
)

// EventMetrics records the outcome of every routed log.
type EventMetrics interface {
	ObserveEvent(event, outcome string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveEvent(string, string, time.Duration) {}

// Event outcomes reported to EventMetrics.
const (
	OutcomeApplied   = "applied"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Module feeds Elk V2 factory and pair logs into the aggregator
type Module struct {
	manifest *core.Manifest
	logger   zerolog.Logger
	parser   *core.EventParser
	metrics  EventMetrics

	factoryABI *abi.ABI
	pairABI    *abi.ABI

	agg     *aggregator.Aggregator
	factory common.Address

	// Event handlers keyed by topic0
	handlers map[common.Hash]eventHandler
}

// eventHandler decodes a parsed log and hands it to the aggregator
type eventHandler func(ctx context.Context, m *Module, event *core.ParsedEvent) error

type Option func(*Module)

func WithMetrics(metrics EventMetrics) Option {
	return func(m *Module) { m.metrics = metrics }
}

// LoadSettings reads the deployment economics from the manifest context.
func LoadSettings(manifest *core.Manifest) (aggregator.Settings, error) {
	var settings aggregator.Settings
	if err := manifest.DecodeContext(&settings); err != nil {
		return aggregator.Settings{}, err
	}
	return settings, nil
}

// New creates the module for manifest. agg must be configured from the same manifest.
func New(manifest *core.Manifest, agg *aggregator.Aggregator, logger zerolog.Logger, opts ...Option) (*Module, error) {
	if manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}

	factory := agg.Config().FactoryAddress()
	if len(manifest.DataSources) > 0 && manifest.DataSources[0].Source.Address != nil {
		if addr := strings.ToLower(*manifest.DataSources[0].Source.Address); addr != factory {
			return nil, fmt.Errorf("manifest factory %s does not match configured factory %s", addr, factory)
		}
	}

	m := &Module{
		manifest: manifest,
		logger:   logger.With().Str("module", manifest.Name).Logger(),
		parser:   core.NewEventParser(),
		metrics:  nopMetrics{},
		agg:      agg,
		factory:  common.HexToAddress(factory),
		handlers: make(map[common.Hash]eventHandler),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.initializeABIs(); err != nil {
		return nil, fmt.Errorf("failed to initialize ABIs: %w", err)
	}
	m.registerEventHandlers()

	return m, nil
}

func (m *Module) Name() string {
	return m.manifest.Name
}

func (m *Module) Version() string {
	return m.manifest.Version
}

func (m *Module) Manifest() *core.Manifest {
	return m.manifest
}

// GetEventFilters returns PairCreated on the factory and the pair events on any address.
// Pair events from contracts that are not indexed pairs are ignored by the aggregator.
func (m *Module) GetEventFilters() []core.EventFilter {
	filters := []core.EventFilter{{
		Address: m.factory.Hex(),
		Topic0:  PairCreatedTopic.Hex(),
	}}
	for _, topic := range PairTopics {
		filters = append(filters, core.EventFilter{Topic0: topic.Hex()})
	}
	return filters
}

func (m *Module) GetStartBlock() uint64 {
	if len(m.manifest.DataSources) > 0 && m.manifest.DataSources[0].Source.StartBlock != nil {
		return *m.manifest.DataSources[0].Source.StartBlock
	}
	return 0
}

// HandleEvent decodes one log and applies it. Logs that cannot be decoded are
// logged and dropped. Aggregator errors are returned so the feed retries.
func (m *Module) HandleEvent(ctx context.Context, raw *core.RawEvent) error {
	log := raw.Log
	if len(log.Topics) == 0 {
		return nil
	}

	handler, exists := m.handlers[log.Topics[0]]
	if !exists {
		return nil
	}

	started := time.Now()

	event, err := m.parser.ParseEvent(raw)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("topic0", log.Topics[0].Hex()).
			Str("address", log.Address.Hex()).
			Uint64("block", log.BlockNumber).
			Uint("log_index", log.Index).
			Msg("Dropping undecodable event")
		m.metrics.ObserveEvent(eventName(err), OutcomeMalformed, time.Since(started))
		return nil
	}

	if err := handler(ctx, m, event); err != nil {
		var malformed errMalformedArgs
		if errors.As(err, &malformed) {
			m.logger.Warn().
				Err(err).
				Str("event", event.EventName).
				Str("address", event.Address.Hex()).
				Uint64("block", event.BlockNumber).
				Msg("Dropping event with malformed arguments")
			m.metrics.ObserveEvent(event.EventName, OutcomeMalformed, time.Since(started))
			return nil
		}
		m.metrics.ObserveEvent(event.EventName, OutcomeFailed, time.Since(started))
		return fmt.Errorf("failed to handle %s: %w", event.EventName, err)
	}

	m.metrics.ObserveEvent(event.EventName, OutcomeApplied, time.Since(started))
	m.logger.Debug().
		Str("event", event.EventName).
		Str("address", event.Address.Hex()).
		Uint64("block", event.BlockNumber).
		Uint("log_index", event.LogIndex).
		Msg("Processed event")

	return nil
}

func eventName(err error) string {
	var parsing core.ErrEventParsing
	if errors.As(err, &parsing) {
		return parsing.Event
	}
	return "unknown"
}
