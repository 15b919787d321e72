package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

const (
	pairsChannel    = "dex.pairs"
	bundleChannel   = "dex.bundle"
	overviewChannel = "dex.overview"
)

func pairChannel(address string) string {
	return fmt.Sprintf("dex.pair.%s", strings.ToLower(address))
}

// Publisher pushes committed pair, price and protocol changes to Centrifugo.
// Pair updates are coalesced and flushed on a short interval so a busy block
// sends one update per pair.
type Publisher struct {
	gc     *gocent.Client
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]aggregator.Pair
	bundle  *aggregator.Bundle
	flushCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// inflight tracks event publishes, which outlive the flusher on Close.
	inflight sync.WaitGroup
}

var _ aggregator.Observer = (*Publisher)(nil)

type PublishConfig struct {
	APIURL        string
	APIKey        string
	Timeout       time.Duration
	FlushInterval time.Duration
}

func NewPublisher(config PublishConfig, logger zerolog.Logger) *Publisher {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		gc: gocent.New(gocent.Config{
			Addr:       config.APIURL,
			Key:        config.APIKey,
			HTTPClient: &http.Client{Timeout: config.Timeout},
		}),
		logger:  logger.With().Str("component", "realtime-publisher").Logger(),
		pending: make(map[string]aggregator.Pair),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.startFlusher(config.FlushInterval)
	return p
}

func (p *Publisher) startFlusher(interval time.Duration) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info().Msg("Stopping publisher flusher")
				return
			case <-ticker.C:
				p.flush(context.Background())
			case <-p.flushCh:
				p.flush(context.Background())
			}
		}
	}()
}

func (p *Publisher) PairSwapped(_ context.Context, swap *aggregator.SwapEvent, pair *aggregator.Pair) {
	p.enqueuePair(pair)
	p.publishEvent(pair.ID, "swap", swap)
}

func (p *Publisher) LiquidityAdded(_ context.Context, mint *aggregator.MintEvent, pair *aggregator.Pair) {
	p.enqueuePair(pair)
	p.publishEvent(pair.ID, "mint", mint)
}

func (p *Publisher) LiquidityRemoved(_ context.Context, burn *aggregator.BurnEvent, pair *aggregator.Pair) {
	p.enqueuePair(pair)
	p.publishEvent(pair.ID, "burn", burn)
}

func (p *Publisher) ReferencePriceUpdated(_ context.Context, bundle *aggregator.Bundle) {
	snapshot := *bundle
	p.mu.Lock()
	p.bundle = &snapshot
	p.mu.Unlock()
	p.signal()
}

func (p *Publisher) EventSkipped(context.Context, string, string) {}

func (p *Publisher) enqueuePair(pair *aggregator.Pair) {
	p.mu.Lock()
	p.pending[strings.ToLower(pair.ID)] = *pair
	p.mu.Unlock()
	p.signal()
}

func (p *Publisher) signal() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Publisher) publishEvent(address string, eventType string, data interface{}) {
	payload := map[string]any{
		"type":       "pair.event",
		"event_type": eventType,
		"data":       data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal event payload")
		return
	}

	channel := pairChannel(address)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		if _, err := p.gc.Publish(context.Background(), channel, payloadBytes); err != nil {
			p.logger.Warn().
				Err(err).
				Str("pair", address).
				Str("channel", channel).
				Msg("Failed to publish pair event")
		}
	}()
}

// PublishOverview sends the protocol totals and current reference price.
func (p *Publisher) PublishOverview(ctx context.Context, factory *aggregator.Factory, bundle *aggregator.Bundle) error {
	payload := map[string]any{
		"type":      "dex.overview",
		"ts":        time.Now().UTC().Unix(),
		"factory":   factory,
		"eth_price": bundle.ETHPrice,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal overview: %w", err)
	}
	if _, err := p.gc.Publish(ctx, overviewChannel, data); err != nil {
		return fmt.Errorf("failed to publish overview: %w", err)
	}
	return nil
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 && p.bundle == nil {
		p.mu.Unlock()
		return
	}

	pairs := make([]aggregator.Pair, 0, len(p.pending))
	for _, pair := range p.pending {
		pairs = append(pairs, pair)
	}
	bundle := p.bundle
	p.pending = make(map[string]aggregator.Pair)
	p.bundle = nil
	p.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	timestamp := time.Now().UTC().Unix()

	if bundle != nil {
		p.publish(ctx, bundleChannel, map[string]any{
			"type":      "bundle.update",
			"ts":        timestamp,
			"eth_price": bundle.ETHPrice,
		})
	}

	if len(pairs) == 0 {
		return
	}

	p.logger.Debug().Int("count", len(pairs)).Msg("Flushing pair updates")

	for _, pair := range pairs {
		p.publish(ctx, pairChannel(pair.ID), map[string]any{
			"type": "pair.update",
			"ts":   timestamp,
			"pair": pair,
		})
	}

	items := make([]any, 0, len(pairs))
	for _, pair := range pairs {
		items = append(items, pair)
	}
	p.publish(ctx, pairsChannel, map[string]any{
		"type":  "pair.batch",
		"ts":    timestamp,
		"items": items,
	})
}

func (p *Publisher) publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to marshal payload")
		return
	}
	if _, err := p.gc.Publish(ctx, channel, data); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to publish update")
	}
}

func (p *Publisher) Close() error {
	p.logger.Info().Msg("Closing publisher")
	p.cancel()
	p.wg.Wait()
	p.inflight.Wait()
	p.flush(context.Background())
	return nil
}
