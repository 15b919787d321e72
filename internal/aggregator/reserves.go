package aggregator

import "context"

// sync applies a pair's new reserves, then refreshes the reference price, both
// tokens' derived prices, and the pair's and protocol's liquidity aggregates.
func (w *work) sync(ctx context.Context, ev SyncLog) error {
	cfg := w.agg.cfg

	if cfg.IsProblematicBlock(ev.BlockNumber) {
		w.agg.logger.Warn().
			Uint64("block", ev.BlockNumber).
			Str("pair", ev.Address).
			Str("tx_hash", ev.TxHash).
			Msg("Skipping sync in problematic block")
		w.notify(func(o Observer) { o.EventSkipped(ctx, "Sync", "problematic block") })
		return nil
	}

	pair, err := w.entity.pair(ctx, normalizeAddress(ev.Address))
	if err != nil {
		return err
	}
	if pair == nil {
		return w.skip(ctx, "Sync", "unknown pair", ev.EventMeta)
	}
	token0, err := w.entity.token(ctx, pair.Token0)
	if err != nil {
		return err
	}
	token1, err := w.entity.token(ctx, pair.Token1)
	if err != nil {
		return err
	}
	if token0 == nil || token1 == nil {
		return w.skip(ctx, "Sync", "unknown token", ev.EventMeta)
	}
	factory, err := w.entity.factory(ctx, cfg.FactoryAddress())
	if err != nil {
		return err
	}
	bundle, err := w.entity.bundle(ctx)
	if err != nil {
		return err
	}
	if factory == nil || bundle == nil {
		return w.skip(ctx, "Sync", "factory not initialized", ev.EventMeta)
	}

	// Remove the pair's previous contribution before replacing its reserves.
	factory.TotalLiquidityETH = factory.TotalLiquidityETH.Sub(pair.TrackedReserveETH)
	token0.TotalLiquidity = token0.TotalLiquidity.Sub(pair.Reserve0)
	token1.TotalLiquidity = token1.TotalLiquidity.Sub(pair.Reserve1)

	pair.Reserve0 = ConvertTokenToDecimal(ev.Reserve0, token0.Decimals)
	pair.Reserve1 = ConvertTokenToDecimal(ev.Reserve1, token1.Decimals)
	pair.Token0Price = safeDiv(pair.Reserve0, pair.Reserve1)
	pair.Token1Price = safeDiv(pair.Reserve1, pair.Reserve0)

	// The oracle reads pools from the store, so it must see the new reserves.
	if err := w.entity.savePair(ctx, pair); err != nil {
		return err
	}

	if bundle.ETHPrice, err = w.oracle.ReferencePriceInUSD(ctx); err != nil {
		return err
	}
	if err := w.entity.saveBundle(ctx, bundle); err != nil {
		return err
	}

	if token0.DerivedETH, err = w.oracle.DerivedReferencePrice(ctx, token0.ID); err != nil {
		return err
	}
	if token1.DerivedETH, err = w.oracle.DerivedReferencePrice(ctx, token1.ID); err != nil {
		return err
	}
	if err := w.entity.saveToken(ctx, token0); err != nil {
		return err
	}
	if err := w.entity.saveToken(ctx, token1); err != nil {
		return err
	}

	trackedLiquidityETH := zeroBD
	if !bundle.ETHPrice.IsZero() {
		trackedLiquidityUSD := w.agg.tracker.TrackedLiquidityUSD(pair.Reserve0, token0, pair.Reserve1, token1, bundle.ETHPrice)
		trackedLiquidityETH = safeDiv(trackedLiquidityUSD, bundle.ETHPrice)
	}

	pair.TrackedReserveETH = trackedLiquidityETH
	pair.ReserveETH = pair.Reserve0.Mul(token0.DerivedETH).Add(pair.Reserve1.Mul(token1.DerivedETH))
	pair.ReserveUSD = pair.ReserveETH.Mul(bundle.ETHPrice)

	factory.TotalLiquidityETH = factory.TotalLiquidityETH.Add(trackedLiquidityETH)
	factory.TotalLiquidityUSD = factory.TotalLiquidityETH.Mul(bundle.ETHPrice)

	token0.TotalLiquidity = token0.TotalLiquidity.Add(pair.Reserve0)
	token1.TotalLiquidity = token1.TotalLiquidity.Add(pair.Reserve1)

	if err := w.entity.savePair(ctx, pair); err != nil {
		return err
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

	updated := *bundle
	w.notify(func(o Observer) { o.ReferencePriceUpdated(ctx, &updated) })
	return nil
}
