package aggregator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceOracle derives the reference currency's USD price from the configured
// stablecoin pools, and each token's price in the reference currency from its
// pools against whitelisted tokens.
type PriceOracle struct {
	cfg    *Config
	pairs  PairLookup
	entity entities
}

// NewPriceOracle returns an oracle reading pools and tokens from repo.
func NewPriceOracle(cfg *Config, pairs PairLookup, repo Repository) *PriceOracle {
	return &PriceOracle{cfg: cfg, pairs: pairs, entity: entities{repo: repo}}
}

// ReferencePriceInUSD is the reserve-weighted average of the stable pools that
// exist. The fallback price is returned when none exist or all are empty.
func (o *PriceOracle) ReferencePriceInUSD(ctx context.Context) (decimal.Decimal, error) {
	total := zeroBD
	weighted := zeroBD

	for _, pool := range o.cfg.StablePools() {
		pair, err := o.entity.pair(ctx, pool.Address)
		if err != nil {
			return zeroBD, err
		}
		if pair == nil {
			continue
		}

		// Weight by the reference-currency side of the pool.
		rate, weight := pair.Token1Price, pair.Reserve0
		if pool.StableIsToken0() {
			rate, weight = pair.Token0Price, pair.Reserve1
		}
		weighted = weighted.Add(rate.Mul(weight))
		total = total.Add(weight)
	}

	if total.IsZero() {
		return o.cfg.FallbackETHPrice(), nil
	}
	return safeDiv(weighted, total), nil
}

// DerivedReferencePrice walks the whitelist in order and prices the token off
// the first qualifying pool. Tokens without such a pool are priced at zero.
func (o *PriceOracle) DerivedReferencePrice(ctx context.Context, token string) (decimal.Decimal, error) {
	token = normalizeAddress(token)
	if token == o.cfg.WrappedNative() {
		return oneBD, nil
	}

	for _, candidate := range o.cfg.Whitelist() {
		address, found, err := o.pairs.GetPair(ctx, token, candidate)
		if err != nil {
			return zeroBD, fmt.Errorf("failed to look up pair %s/%s: %w", token, candidate, err)
		}
		if !found || normalizeAddress(address) == ZeroAddress {
			continue
		}

		pair, err := o.entity.pair(ctx, normalizeAddress(address))
		if err != nil {
			return zeroBD, err
		}
		if pair == nil {
			continue
		}

		if pair.Token0 == token && pair.ReserveETH.GreaterThan(o.cfg.MinimumLiquidityThresholdETH()) {
			other, err := o.entity.token(ctx, pair.Token1)
			if err != nil {
				return zeroBD, err
			}
			if other == nil {
				continue
			}
			return pair.Token1Price.Mul(other.DerivedETH), nil
		}
		if pair.Token1 == token && pair.ReserveETH.GreaterThan(o.cfg.MinimumLiquidityThresholdETH()) {
			other, err := o.entity.token(ctx, pair.Token0)
			if err != nil {
				return zeroBD, err
			}
			if other == nil {
				continue
			}
			return pair.Token0Price.Mul(other.DerivedETH), nil
		}
	}

	return zeroBD, nil
}
