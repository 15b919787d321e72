package aggregator

import "github.com/shopspring/decimal"

// minimumLiquidityProviders is the provider count below which a pool's
// reserves must clear the new-pair USD threshold before its volume counts.
const minimumLiquidityProviders = 5

// VolumeTracker applies whitelist rules so that only volume and liquidity
// priced through trusted tokens reach the tracked aggregates.
type VolumeTracker struct {
	cfg *Config
}

func NewVolumeTracker(cfg *Config) *VolumeTracker {
	return &VolumeTracker{cfg: cfg}
}

// TrackedVolumeUSD returns the USD value of a trade counted toward tracked volume.
func (t *VolumeTracker) TrackedVolumeUSD(amount0 decimal.Decimal, token0 *Token, amount1 decimal.Decimal, token1 *Token, pair *Pair, ethPrice decimal.Decimal) decimal.Decimal {
	if t.cfg.IsUntracked(pair.ID) {
		return zeroBD
	}

	price0 := token0.DerivedETH.Mul(ethPrice)
	price1 := token1.DerivedETH.Mul(ethPrice)
	white0 := t.cfg.IsWhitelisted(token0.ID)
	white1 := t.cfg.IsWhitelisted(token1.ID)

	if pair.LiquidityProviderCount < minimumLiquidityProviders {
		reserve0USD := pair.Reserve0.Mul(price0)
		reserve1USD := pair.Reserve1.Mul(price1)
		threshold := t.cfg.MinimumUSDThresholdNewPairs()

		switch {
		case white0 && white1:
			if reserve0USD.Add(reserve1USD).LessThan(threshold) {
				return zeroBD
			}
		case white0:
			if reserve0USD.Mul(twoBD).LessThan(threshold) {
				return zeroBD
			}
		case white1:
			if reserve1USD.Mul(twoBD).LessThan(threshold) {
				return zeroBD
			}
		}
	}

	switch {
	case white0 && white1:
		return amount0.Mul(price0).Add(amount1.Mul(price1)).Mul(halfBD)
	case white0:
		return amount0.Mul(price0)
	case white1:
		return amount1.Mul(price1)
	}
	return zeroBD
}

// TrackedLiquidityUSD returns the USD value of reserves counted toward tracked liquidity.
// A pool with one whitelisted side is valued at twice that side.
func (t *VolumeTracker) TrackedLiquidityUSD(amount0 decimal.Decimal, token0 *Token, amount1 decimal.Decimal, token1 *Token, ethPrice decimal.Decimal) decimal.Decimal {
	price0 := token0.DerivedETH.Mul(ethPrice)
	price1 := token1.DerivedETH.Mul(ethPrice)
	white0 := t.cfg.IsWhitelisted(token0.ID)
	white1 := t.cfg.IsWhitelisted(token1.ID)

	switch {
	case white0 && white1:
		return amount0.Mul(price0).Add(amount1.Mul(price1))
	case white0:
		return amount0.Mul(price0).Mul(twoBD)
	case white1:
		return amount1.Mul(price1).Mul(twoBD)
	}
	return zeroBD
}
