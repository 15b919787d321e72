package aggregator

import (
	"context"
	"errors"
	"fmt"
)

// ErrMissingDecimals is returned by a TokenMetadata source when a token's
// decimals cannot be determined. Pairs with such tokens are not indexed.
var ErrMissingDecimals = errors.New("token decimals unavailable")

// mint completes the transaction's last mint with the amounts from a Mint log.
func (w *work) mint(ctx context.Context, ev MintLog) error {
	tx, err := w.entity.transaction(ctx, ev.TxHash)
	if err != nil {
		return err
	}
	if tx == nil || len(tx.Mints) == 0 {
		return w.skip(ctx, "Mint", "no open mint", ev.EventMeta)
	}
	mint, err := w.entity.mint(ctx, tx.Mints[len(tx.Mints)-1])
	if err != nil {
		return err
	}
	if mint == nil {
		return w.skip(ctx, "Mint", "no open mint", ev.EventMeta)
	}

	l, ok, err := w.loadLiquidityContext(ctx, ev.EventMeta)
	if err != nil {
		return err
	}
	if !ok {
		return w.skip(ctx, "Mint", "missing pair context", ev.EventMeta)
	}

	amount0 := ConvertTokenToDecimal(ev.Amount0, l.token0.Decimals)
	amount1 := ConvertTokenToDecimal(ev.Amount1, l.token1.Decimals)

	if err := w.countTransaction(ctx, l); err != nil {
		return err
	}

	mint.Sender = normalizeAddress(ev.Sender)
	mint.Amount0 = amount0
	mint.Amount1 = amount1
	mint.LogIndex = ev.LogIndex
	mint.AmountUSD = l.token1.DerivedETH.Mul(amount1).Add(l.token0.DerivedETH.Mul(amount0)).Mul(l.bundle.ETHPrice)
	if err := w.entity.saveMint(ctx, mint); err != nil {
		return err
	}

	if _, err := w.rollup(ctx, ev.Timestamp, l.pair, l.token0, l.token1, l.factory, l.bundle); err != nil {
		return err
	}

	pair := *l.pair
	w.notify(func(o Observer) { o.LiquidityAdded(ctx, mint, &pair) })
	return nil
}

// burn completes the transaction's last burn with the amounts from a Burn log.
func (w *work) burn(ctx context.Context, ev BurnLog) error {
	tx, err := w.entity.transaction(ctx, ev.TxHash)
	if err != nil {
		return err
	}
	if tx == nil || len(tx.Burns) == 0 {
		return w.skip(ctx, "Burn", "no open burn", ev.EventMeta)
	}
	burn, err := w.entity.burn(ctx, tx.Burns[len(tx.Burns)-1])
	if err != nil {
		return err
	}
	if burn == nil {
		return w.skip(ctx, "Burn", "no open burn", ev.EventMeta)
	}

	l, ok, err := w.loadLiquidityContext(ctx, ev.EventMeta)
	if err != nil {
		return err
	}
	if !ok {
		return w.skip(ctx, "Burn", "missing pair context", ev.EventMeta)
	}

	amount0 := ConvertTokenToDecimal(ev.Amount0, l.token0.Decimals)
	amount1 := ConvertTokenToDecimal(ev.Amount1, l.token1.Decimals)

	if err := w.countTransaction(ctx, l); err != nil {
		return err
	}

	burn.Amount0 = amount0
	burn.Amount1 = amount1
	burn.LogIndex = ev.LogIndex
	burn.AmountUSD = l.token1.DerivedETH.Mul(amount1).Add(l.token0.DerivedETH.Mul(amount0)).Mul(l.bundle.ETHPrice)
	if err := w.entity.saveBurn(ctx, burn); err != nil {
		return err
	}

	if _, err := w.rollup(ctx, ev.Timestamp, l.pair, l.token0, l.token1, l.factory, l.bundle); err != nil {
		return err
	}

	pair := *l.pair
	w.notify(func(o Observer) { o.LiquidityRemoved(ctx, burn, &pair) })
	return nil
}

// swap accrues tracked and untracked volume and records the swap.
func (w *work) swap(ctx context.Context, ev SwapLog) error {
	l, ok, err := w.loadLiquidityContext(ctx, ev.EventMeta)
	if err != nil {
		return err
	}
	if !ok {
		return w.skip(ctx, "Swap", "missing pair context", ev.EventMeta)
	}
	pair, token0, token1, factory, bundle := l.pair, l.token0, l.token1, l.factory, l.bundle
	ethPrice := bundle.ETHPrice

	amount0In := ConvertTokenToDecimal(ev.Amount0In, token0.Decimals)
	amount1In := ConvertTokenToDecimal(ev.Amount1In, token1.Decimals)
	amount0Out := ConvertTokenToDecimal(ev.Amount0Out, token0.Decimals)
	amount1Out := ConvertTokenToDecimal(ev.Amount1Out, token1.Decimals)

	amount0Total := amount0Out.Add(amount0In)
	amount1Total := amount1Out.Add(amount1In)

	derivedAmountETH := token1.DerivedETH.Mul(amount1Total).Add(token0.DerivedETH.Mul(amount0Total)).Mul(halfBD)
	derivedAmountUSD := derivedAmountETH.Mul(ethPrice)

	trackedAmountUSD := w.agg.tracker.TrackedVolumeUSD(amount0Total, token0, amount1Total, token1, pair, ethPrice)
	trackedAmountETH := safeDiv(trackedAmountUSD, ethPrice)

	token0.TradeVolume = token0.TradeVolume.Add(amount0In.Add(amount0Out))
	token0.TradeVolumeUSD = token0.TradeVolumeUSD.Add(trackedAmountUSD)
	token0.UntrackedVolumeUSD = token0.UntrackedVolumeUSD.Add(derivedAmountUSD)
	token0.TxCount++

	token1.TradeVolume = token1.TradeVolume.Add(amount1In.Add(amount1Out))
	token1.TradeVolumeUSD = token1.TradeVolumeUSD.Add(trackedAmountUSD)
	token1.UntrackedVolumeUSD = token1.UntrackedVolumeUSD.Add(derivedAmountUSD)
	token1.TxCount++

	pair.VolumeUSD = pair.VolumeUSD.Add(trackedAmountUSD)
	pair.VolumeToken0 = pair.VolumeToken0.Add(amount0Total)
	pair.VolumeToken1 = pair.VolumeToken1.Add(amount1Total)
	pair.UntrackedVolumeUSD = pair.UntrackedVolumeUSD.Add(derivedAmountUSD)
	pair.TxCount++

	factory.TotalVolumeUSD = factory.TotalVolumeUSD.Add(trackedAmountUSD)
	factory.TotalVolumeETH = factory.TotalVolumeETH.Add(trackedAmountETH)
	factory.UntrackedVolumeUSD = factory.UntrackedVolumeUSD.Add(derivedAmountUSD)
	factory.TxCount++

	if err := w.saveLiquidityContext(ctx, l); err != nil {
		return err
	}

	tx, err := w.ensureTransaction(ctx, ev.EventMeta)
	if err != nil {
		return err
	}

	swap := &SwapEvent{
		ID:          fmt.Sprintf("%s-%d", tx.ID, len(tx.Swaps)),
		Transaction: tx.ID,
		Timestamp:   tx.Timestamp,
		Pair:        pair.ID,
		Sender:      normalizeAddress(ev.Sender),
		From:        normalizeAddress(ev.TxFrom),
		To:          normalizeAddress(ev.To),
		Amount0In:   amount0In,
		Amount1In:   amount1In,
		Amount0Out:  amount0Out,
		Amount1Out:  amount1Out,
		LogIndex:    ev.LogIndex,
		AmountUSD:   trackedAmountUSD,
	}
	if trackedAmountUSD.IsZero() {
		swap.AmountUSD = derivedAmountUSD
	}
	if err := w.entity.saveSwap(ctx, swap); err != nil {
		return err
	}

	tx.Swaps = append(tx.Swaps, swap.ID)
	if err := w.entity.saveTransaction(ctx, tx); err != nil {
		return err
	}

	r, err := w.rollup(ctx, ev.Timestamp, pair, token0, token1, factory, bundle)
	if err != nil {
		return err
	}
	if err := r.addSwapVolume(ctx, w.entity, amount0Total, amount1Total, trackedAmountUSD, trackedAmountETH, derivedAmountUSD, token0, token1, ethPrice); err != nil {
		return err
	}

	snapshot := *pair
	w.notify(func(o Observer) { o.PairSwapped(ctx, swap, &snapshot) })
	return nil
}

// pairCreated registers a new pool, creating the factory, the bundle and the
// pool's tokens on first sight.
func (w *work) pairCreated(ctx context.Context, ev PairCreatedLog) error {
	cfg := w.agg.cfg
	if normalizeAddress(ev.Address) != cfg.FactoryAddress() {
		return w.skip(ctx, "PairCreated", "foreign factory", ev.EventMeta)
	}

	pairID := normalizeAddress(ev.Pair)
	existing, err := w.entity.pair(ctx, pairID)
	if err != nil {
		return err
	}
	if existing != nil {
		return w.skip(ctx, "PairCreated", "pair exists", ev.EventMeta)
	}

	token0, err := w.resolveToken(ctx, ev.Token0)
	if err != nil {
		return err
	}
	token1, err := w.resolveToken(ctx, ev.Token1)
	if err != nil {
		return err
	}
	if token0 == nil || token1 == nil {
		w.agg.logger.Warn().
			Str("pair", pairID).
			Str("token0", ev.Token0).
			Str("token1", ev.Token1).
			Msg("Skipping pair with unresolvable token decimals")
		return w.skip(ctx, "PairCreated", "missing token decimals", ev.EventMeta)
	}

	factory, err := w.entity.factory(ctx, cfg.FactoryAddress())
	if err != nil {
		return err
	}
	if factory == nil {
		factory = &Factory{ID: cfg.FactoryAddress()}
		if err := w.entity.saveBundle(ctx, &Bundle{ID: BundleID}); err != nil {
			return err
		}
	}
	factory.PairCount++

	pair := &Pair{
		ID:                   pairID,
		Token0:               token0.ID,
		Token1:               token1.ID,
		CreatedAtTimestamp:   ev.Timestamp,
		CreatedAtBlockNumber: ev.BlockNumber,
	}

	if err := w.entity.saveFactory(ctx, factory); err != nil {
		return err
	}
	if err := w.entity.saveToken(ctx, token0); err != nil {
		return err
	}
	if err := w.entity.saveToken(ctx, token1); err != nil {
		return err
	}
	if err := w.entity.savePair(ctx, pair); err != nil {
		return err
	}
	index := &PairIndex{ID: pairIndexID(token0.ID, token1.ID), Pair: pair.ID}
	if err := w.entity.save(ctx, KindPairIndex, index.ID, index); err != nil {
		return err
	}

	w.agg.logger.Info().
		Str("pair", pair.ID).
		Str("token0", token0.Symbol).
		Str("token1", token1.Symbol).
		Uint64("pair_count", factory.PairCount).
		Msg("Pair created")
	return nil
}

// resolveToken loads a token, or builds a new one from static definitions and
// on-chain metadata. It returns nil when the token's decimals are unknown.
func (w *work) resolveToken(ctx context.Context, address string) (*Token, error) {
	address = normalizeAddress(address)
	token, err := w.entity.token(ctx, address)
	if err != nil || token != nil {
		return token, err
	}

	token = &Token{ID: address}

	var info TokenInfo
	var infoErr error = ErrMissingDecimals
	if w.agg.tokens != nil {
		info, infoErr = w.agg.tokens.TokenInfo(ctx, address)
	}

	if static, ok := w.agg.cfg.StaticToken(address); ok {
		token.Symbol = static.Symbol
		token.Name = static.Name
		token.Decimals = static.Decimals
		if infoErr == nil {
			token.TotalSupply = info.TotalSupply
		}
		return token, nil
	}

	if errors.Is(infoErr, ErrMissingDecimals) {
		return nil, nil
	}
	if infoErr != nil {
		return nil, fmt.Errorf("failed to fetch token metadata for %s: %w", address, infoErr)
	}

	token.Symbol = info.Symbol
	token.Name = info.Name
	token.Decimals = info.Decimals
	token.TotalSupply = info.TotalSupply
	return token, nil
}

// liquidityContext is the set of entities every pair event updates.
type liquidityContext struct {
	pair    *Pair
	token0  *Token
	token1  *Token
	factory *Factory
	bundle  *Bundle
}

func (w *work) loadLiquidityContext(ctx context.Context, meta EventMeta) (*liquidityContext, bool, error) {
	l := &liquidityContext{}
	var err error

	if l.pair, err = w.entity.pair(ctx, normalizeAddress(meta.Address)); err != nil {
		return nil, false, err
	}
	if l.pair == nil {
		return nil, false, nil
	}
	if l.token0, err = w.entity.token(ctx, l.pair.Token0); err != nil {
		return nil, false, err
	}
	if l.token1, err = w.entity.token(ctx, l.pair.Token1); err != nil {
		return nil, false, err
	}
	if l.factory, err = w.entity.factory(ctx, w.agg.cfg.FactoryAddress()); err != nil {
		return nil, false, err
	}
	if l.bundle, err = w.entity.bundle(ctx); err != nil {
		return nil, false, err
	}
	if l.token0 == nil || l.token1 == nil || l.factory == nil || l.bundle == nil {
		return nil, false, nil
	}
	return l, true, nil
}

// countTransaction increments the transaction counters of a mint or burn.
func (w *work) countTransaction(ctx context.Context, l *liquidityContext) error {
	l.token0.TxCount++
	l.token1.TxCount++
	l.pair.TxCount++
	l.factory.TxCount++
	return w.saveLiquidityContext(ctx, l)
}

func (w *work) saveLiquidityContext(ctx context.Context, l *liquidityContext) error {
	if err := w.entity.saveToken(ctx, l.token0); err != nil {
		return err
	}
	if err := w.entity.saveToken(ctx, l.token1); err != nil {
		return err
	}
	if err := w.entity.savePair(ctx, l.pair); err != nil {
		return err
	}
	return w.entity.saveFactory(ctx, l.factory)
}
