package aggregator

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	secondsPerDay  = 86400
	secondsPerHour = 3600
)

// DayID returns the day bucket index of a unix timestamp.
func DayID(timestamp uint64) uint64 { return timestamp / secondsPerDay }

// HourIndex returns the hour bucket index of a unix timestamp.
func HourIndex(timestamp uint64) uint64 { return timestamp / secondsPerHour }

// rollup is the set of bucket entities touched by one event.
type rollup struct {
	pairDay     *PairDayData
	pairHour    *PairHourData
	factoryDay  *FactoryBucketData
	factoryHour *FactoryBucketData
	token0Day   *TokenBucketData
	token0Hour  *TokenBucketData
	token1Day   *TokenBucketData
	token1Hour  *TokenBucketData
}

// rollup snapshots the current pair, token and protocol state into the hour
// and day buckets containing timestamp and counts one transaction in each.
// Entities must already be saved with their post-event values.
func (w *work) rollup(ctx context.Context, timestamp uint64, pair *Pair, token0, token1 *Token, factory *Factory, bundle *Bundle) (*rollup, error) {
	r := &rollup{}
	var err error

	if r.pairDay, err = w.updatePairDay(ctx, pair, timestamp); err != nil {
		return nil, err
	}
	if r.pairHour, err = w.updatePairHour(ctx, pair, timestamp); err != nil {
		return nil, err
	}
	if r.factoryDay, err = w.updateFactoryBucket(ctx, KindFactoryDayData, DayID(timestamp), secondsPerDay, factory); err != nil {
		return nil, err
	}
	if r.factoryHour, err = w.updateFactoryBucket(ctx, KindFactoryHourData, HourIndex(timestamp), secondsPerHour, factory); err != nil {
		return nil, err
	}
	if r.token0Day, err = w.updateTokenBucket(ctx, KindTokenDayData, DayID(timestamp), secondsPerDay, token0, bundle.ETHPrice); err != nil {
		return nil, err
	}
	if r.token0Hour, err = w.updateTokenBucket(ctx, KindTokenHourData, HourIndex(timestamp), secondsPerHour, token0, bundle.ETHPrice); err != nil {
		return nil, err
	}
	if r.token1Day, err = w.updateTokenBucket(ctx, KindTokenDayData, DayID(timestamp), secondsPerDay, token1, bundle.ETHPrice); err != nil {
		return nil, err
	}
	if r.token1Hour, err = w.updateTokenBucket(ctx, KindTokenHourData, HourIndex(timestamp), secondsPerHour, token1, bundle.ETHPrice); err != nil {
		return nil, err
	}

	return r, nil
}

// addSwapVolume accumulates a swap's volume into every bucket and saves them.
func (r *rollup) addSwapVolume(ctx context.Context, e entities, amount0, amount1, trackedUSD, trackedETH, untrackedUSD decimal.Decimal, token0, token1 *Token, ethPrice decimal.Decimal) error {
	r.pairDay.DailyVolumeToken0 = r.pairDay.DailyVolumeToken0.Add(amount0)
	r.pairDay.DailyVolumeToken1 = r.pairDay.DailyVolumeToken1.Add(amount1)
	r.pairDay.DailyVolumeUSD = r.pairDay.DailyVolumeUSD.Add(trackedUSD)

	r.pairHour.HourlyVolumeToken0 = r.pairHour.HourlyVolumeToken0.Add(amount0)
	r.pairHour.HourlyVolumeToken1 = r.pairHour.HourlyVolumeToken1.Add(amount1)
	r.pairHour.HourlyVolumeUSD = r.pairHour.HourlyVolumeUSD.Add(trackedUSD)

	for _, bucket := range []*FactoryBucketData{r.factoryDay, r.factoryHour} {
		bucket.VolumeUSD = bucket.VolumeUSD.Add(trackedUSD)
		bucket.VolumeETH = bucket.VolumeETH.Add(trackedETH)
		bucket.VolumeUntracked = bucket.VolumeUntracked.Add(untrackedUSD)
	}

	for _, bucket := range []*TokenBucketData{r.token0Day, r.token0Hour} {
		addTokenVolume(bucket, amount0, token0.DerivedETH, ethPrice)
	}
	for _, bucket := range []*TokenBucketData{r.token1Day, r.token1Hour} {
		addTokenVolume(bucket, amount1, token1.DerivedETH, ethPrice)
	}

	if err := e.save(ctx, KindPairDayData, r.pairDay.ID, r.pairDay); err != nil {
		return err
	}
	if err := e.save(ctx, KindPairHourData, r.pairHour.ID, r.pairHour); err != nil {
		return err
	}
	if err := e.save(ctx, KindFactoryDayData, r.factoryDay.ID, r.factoryDay); err != nil {
		return err
	}
	if err := e.save(ctx, KindFactoryHourData, r.factoryHour.ID, r.factoryHour); err != nil {
		return err
	}
	for kind, buckets := range map[string][]*TokenBucketData{
		KindTokenDayData:  {r.token0Day, r.token1Day},
		KindTokenHourData: {r.token0Hour, r.token1Hour},
	} {
		for _, bucket := range buckets {
			if err := e.save(ctx, kind, bucket.ID, bucket); err != nil {
				return err
			}
		}
	}
	return nil
}

func addTokenVolume(bucket *TokenBucketData, amount, derivedETH, ethPrice decimal.Decimal) {
	bucket.VolumeToken = bucket.VolumeToken.Add(amount)
	bucket.VolumeETH = bucket.VolumeETH.Add(amount.Mul(derivedETH))
	bucket.VolumeUSD = bucket.VolumeUSD.Add(amount.Mul(derivedETH).Mul(ethPrice))
}

func (w *work) updatePairDay(ctx context.Context, pair *Pair, timestamp uint64) (*PairDayData, error) {
	day := DayID(timestamp)
	id := pair.ID + "-" + strconv.FormatUint(day, 10)

	data, err := load[PairDayData](ctx, w.entity.repo, KindPairDayData, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &PairDayData{
			ID:          id,
			Date:        day * secondsPerDay,
			PairAddress: pair.ID,
			Token0:      pair.Token0,
			Token1:      pair.Token1,
		}
	}

	data.TotalSupply = pair.TotalSupply
	data.Reserve0 = pair.Reserve0
	data.Reserve1 = pair.Reserve1
	data.ReserveUSD = pair.ReserveUSD
	data.DailyTxns++

	return data, w.entity.save(ctx, KindPairDayData, id, data)
}

func (w *work) updatePairHour(ctx context.Context, pair *Pair, timestamp uint64) (*PairHourData, error) {
	hour := HourIndex(timestamp)
	id := pair.ID + "-" + strconv.FormatUint(hour, 10)

	data, err := load[PairHourData](ctx, w.entity.repo, KindPairHourData, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &PairHourData{
			ID:            id,
			HourStartUnix: hour * secondsPerHour,
			Pair:          pair.ID,
		}
	}

	data.TotalSupply = pair.TotalSupply
	data.Reserve0 = pair.Reserve0
	data.Reserve1 = pair.Reserve1
	data.ReserveUSD = pair.ReserveUSD
	data.HourlyTxns++

	return data, w.entity.save(ctx, KindPairHourData, id, data)
}

func (w *work) updateFactoryBucket(ctx context.Context, kind string, bucket, width uint64, factory *Factory) (*FactoryBucketData, error) {
	id := strconv.FormatUint(bucket, 10)

	data, err := load[FactoryBucketData](ctx, w.entity.repo, kind, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &FactoryBucketData{ID: id, Date: bucket * width}
	}

	data.TotalLiquidityUSD = factory.TotalLiquidityUSD
	data.TotalLiquidityETH = factory.TotalLiquidityETH
	data.TxCount = factory.TxCount

	return data, w.entity.save(ctx, kind, id, data)
}

func (w *work) updateTokenBucket(ctx context.Context, kind string, bucket, width uint64, token *Token, ethPrice decimal.Decimal) (*TokenBucketData, error) {
	id := token.ID + "-" + strconv.FormatUint(bucket, 10)

	data, err := load[TokenBucketData](ctx, w.entity.repo, kind, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = &TokenBucketData{ID: id, Date: bucket * width, Token: token.ID}
	}

	data.PriceUSD = token.DerivedETH.Mul(ethPrice)
	data.TotalLiquidityToken = token.TotalLiquidity
	data.TotalLiquidityETH = token.TotalLiquidity.Mul(token.DerivedETH)
	data.TotalLiquidityUSD = data.TotalLiquidityETH.Mul(ethPrice)
	data.Txns++

	return data, w.entity.save(ctx, kind, id, data)
}
