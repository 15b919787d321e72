// Package aggregator maintains AMM analytics entities from an ordered stream of
// pair and factory events: reference-currency prices, tracked and untracked
// volume and liquidity, logical mint/burn/swap records, and hour/day rollups.
//
// Events must be applied one at a time in chain order. Each event is applied
// inside a single Store.Atomically unit together with the Cursor update, so a
// failed event leaves no partial state behind and a restarted feed can resume
// exactly after the last applied log.
package aggregator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Observer is notified after an event's changes have been committed.
type Observer interface {
	PairSwapped(ctx context.Context, swap *SwapEvent, pair *Pair)
	LiquidityAdded(ctx context.Context, mint *MintEvent, pair *Pair)
	LiquidityRemoved(ctx context.Context, burn *BurnEvent, pair *Pair)
	ReferencePriceUpdated(ctx context.Context, bundle *Bundle)
	EventSkipped(ctx context.Context, event, reason string)
}

// NopObserver ignores all notifications. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) PairSwapped(context.Context, *SwapEvent, *Pair)      {}
func (NopObserver) LiquidityAdded(context.Context, *MintEvent, *Pair)   {}
func (NopObserver) LiquidityRemoved(context.Context, *BurnEvent, *Pair) {}
func (NopObserver) ReferencePriceUpdated(context.Context, *Bundle)      {}
func (NopObserver) EventSkipped(context.Context, string, string)        {}

// Observers fans notifications out in order.
type Observers []Observer

func (o Observers) PairSwapped(ctx context.Context, swap *SwapEvent, pair *Pair) {
	for _, obs := range o {
		obs.PairSwapped(ctx, swap, pair)
	}
}

func (o Observers) LiquidityAdded(ctx context.Context, mint *MintEvent, pair *Pair) {
	for _, obs := range o {
		obs.LiquidityAdded(ctx, mint, pair)
	}
}

func (o Observers) LiquidityRemoved(ctx context.Context, burn *BurnEvent, pair *Pair) {
	for _, obs := range o {
		obs.LiquidityRemoved(ctx, burn, pair)
	}
}

func (o Observers) ReferencePriceUpdated(ctx context.Context, bundle *Bundle) {
	for _, obs := range o {
		obs.ReferencePriceUpdated(ctx, bundle)
	}
}

func (o Observers) EventSkipped(ctx context.Context, event, reason string) {
	for _, obs := range o {
		obs.EventSkipped(ctx, event, reason)
	}
}

// Aggregator applies events to a Store.
type Aggregator struct {
	cfg      *Config
	store    Store
	pairs    PairLookup
	tokens   TokenMetadata
	tracker  *VolumeTracker
	observer Observer
	logger   zerolog.Logger
}

type Option func(*Aggregator)

// WithPairLookup overrides the default lookup, which reads PairIndex entities from the store.
func WithPairLookup(pairs PairLookup) Option {
	return func(a *Aggregator) { a.pairs = pairs }
}

// WithTokenMetadata sets the source of ERC20 metadata for newly created tokens.
func WithTokenMetadata(tokens TokenMetadata) Option {
	return func(a *Aggregator) { a.tokens = tokens }
}

func WithObserver(observer Observer) Option {
	return func(a *Aggregator) { a.observer = observer }
}

// New creates an aggregator over store.
func New(cfg *Config, store Store, logger zerolog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		cfg:      cfg,
		store:    store,
		pairs:    NewStorePairLookup(store),
		tracker:  NewVolumeTracker(cfg),
		observer: NopObserver{},
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the aggregator's configuration.
func (a *Aggregator) Config() *Config {
	return a.cfg
}

// Cursor returns the position of the last applied log.
func (a *Aggregator) Cursor(ctx context.Context) (Cursor, bool, error) {
	c, err := load[Cursor](ctx, a.store, KindCursor, CursorID)
	if err != nil || c == nil {
		return Cursor{}, false, err
	}
	return *c, true, nil
}

// Apply applies a single event atomically and advances the cursor past it.
func (a *Aggregator) Apply(ctx context.Context, ev Event) error {
	var notices []func()

	err := a.store.Atomically(ctx, func(repo Repository) error {
		w := a.newWork(repo)
		if err := w.dispatch(ctx, ev); err != nil {
			return err
		}
		meta := ev.Meta()
		if err := w.entity.save(ctx, KindCursor, CursorID, &Cursor{BlockNumber: meta.BlockNumber, LogIndex: meta.LogIndex}); err != nil {
			return err
		}
		notices = w.notices
		return nil
	})
	if err != nil {
		meta := ev.Meta()
		return fmt.Errorf("failed to apply event at block %d log %d: %w", meta.BlockNumber, meta.LogIndex, err)
	}

	for _, notify := range notices {
		notify()
	}
	return nil
}

func (a *Aggregator) HandleTransfer(ctx context.Context, ev TransferLog) error { return a.Apply(ctx, ev) }
func (a *Aggregator) HandleSync(ctx context.Context, ev SyncLog) error         { return a.Apply(ctx, ev) }
func (a *Aggregator) HandleMint(ctx context.Context, ev MintLog) error         { return a.Apply(ctx, ev) }
func (a *Aggregator) HandleBurn(ctx context.Context, ev BurnLog) error         { return a.Apply(ctx, ev) }
func (a *Aggregator) HandleSwap(ctx context.Context, ev SwapLog) error         { return a.Apply(ctx, ev) }

func (a *Aggregator) HandlePairCreated(ctx context.Context, ev PairCreatedLog) error {
	return a.Apply(ctx, ev)
}

// work is the state of one event's application.
type work struct {
	agg     *Aggregator
	entity  entities
	oracle  *PriceOracle
	notices []func()
}

func (a *Aggregator) newWork(repo Repository) *work {
	return &work{
		agg:    a,
		entity: entities{repo: repo},
		oracle: NewPriceOracle(a.cfg, a.pairs, repo),
	}
}

func (w *work) dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case TransferLog:
		return w.transfer(ctx, e)
	case SyncLog:
		return w.sync(ctx, e)
	case MintLog:
		return w.mint(ctx, e)
	case BurnLog:
		return w.burn(ctx, e)
	case SwapLog:
		return w.swap(ctx, e)
	case PairCreatedLog:
		return w.pairCreated(ctx, e)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

// notify queues an observer call until the unit commits.
func (w *work) notify(fn func(Observer)) {
	observer := w.agg.observer
	w.notices = append(w.notices, func() { fn(observer) })
}

// skip records that an event was ignored without mutating state.
func (w *work) skip(ctx context.Context, event, reason string, meta EventMeta) error {
	w.agg.logger.Debug().
		Str("event", event).
		Str("reason", reason).
		Str("address", meta.Address).
		Uint64("block", meta.BlockNumber).
		Str("tx_hash", meta.TxHash).
		Msg("Skipping event")
	w.notify(func(o Observer) { o.EventSkipped(ctx, event, reason) })
	return nil
}
