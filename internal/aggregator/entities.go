package aggregator

import "github.com/shopspring/decimal"

// Entity kinds as stored by a Repository.
const (
	KindFactory           = "Factory"
	KindBundle            = "Bundle"
	KindToken             = "Token"
	KindPair              = "Pair"
	KindPairIndex         = "PairIndex"
	KindTransaction       = "Transaction"
	KindMint              = "Mint"
	KindBurn              = "Burn"
	KindSwap              = "Swap"
	KindUser              = "User"
	KindLiquidityPosition = "LiquidityPosition"
	KindPairDayData       = "PairDayData"
	KindPairHourData      = "PairHourData"
	KindTokenDayData      = "TokenDayData"
	KindTokenHourData     = "TokenHourData"
	KindFactoryDayData    = "FactoryDayData"
	KindFactoryHourData   = "FactoryHourData"
	KindCursor            = "Cursor"
)

// BundleID is the ID of the singleton Bundle.
const BundleID = "1"

// CursorID is the ID of the singleton Cursor.
const CursorID = "cursor"

// Factory holds protocol-wide aggregates.
type Factory struct {
	ID                 string          `json:"id"`
	PairCount          uint64          `json:"pairCount"`
	TotalVolumeUSD     decimal.Decimal `json:"totalVolumeUSD"`
	TotalVolumeETH     decimal.Decimal `json:"totalVolumeETH"`
	UntrackedVolumeUSD decimal.Decimal `json:"untrackedVolumeUSD"`
	TotalLiquidityUSD  decimal.Decimal `json:"totalLiquidityUSD"`
	TotalLiquidityETH  decimal.Decimal `json:"totalLiquidityETH"`
	TxCount            uint64          `json:"txCount"`
}

// Bundle carries the reference currency's USD price.
type Bundle struct {
	ID       string          `json:"id"`
	ETHPrice decimal.Decimal `json:"ethPrice"`
}

type Token struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	Name               string          `json:"name"`
	Decimals           int64           `json:"decimals"`
	TotalSupply        decimal.Decimal `json:"totalSupply"`
	TradeVolume        decimal.Decimal `json:"tradeVolume"`
	TradeVolumeUSD     decimal.Decimal `json:"tradeVolumeUSD"`
	UntrackedVolumeUSD decimal.Decimal `json:"untrackedVolumeUSD"`
	TxCount            uint64          `json:"txCount"`
	TotalLiquidity     decimal.Decimal `json:"totalLiquidity"`
	// DerivedETH is the token's price in the reference currency.
	DerivedETH decimal.Decimal `json:"derivedETH"`
}

type Pair struct {
	ID                     string          `json:"id"`
	Token0                 string          `json:"token0"`
	Token1                 string          `json:"token1"`
	Reserve0               decimal.Decimal `json:"reserve0"`
	Reserve1               decimal.Decimal `json:"reserve1"`
	TotalSupply            decimal.Decimal `json:"totalSupply"`
	ReserveETH             decimal.Decimal `json:"reserveETH"`
	ReserveUSD             decimal.Decimal `json:"reserveUSD"`
	TrackedReserveETH      decimal.Decimal `json:"trackedReserveETH"`
	Token0Price            decimal.Decimal `json:"token0Price"`
	Token1Price            decimal.Decimal `json:"token1Price"`
	VolumeToken0           decimal.Decimal `json:"volumeToken0"`
	VolumeToken1           decimal.Decimal `json:"volumeToken1"`
	VolumeUSD              decimal.Decimal `json:"volumeUSD"`
	UntrackedVolumeUSD     decimal.Decimal `json:"untrackedVolumeUSD"`
	TxCount                uint64          `json:"txCount"`
	LiquidityProviderCount uint64          `json:"liquidityProviderCount"`
	CreatedAtTimestamp     uint64          `json:"createdAtTimestamp"`
	CreatedAtBlockNumber   uint64          `json:"createdAtBlockNumber"`
}

// PairIndex maps an unordered token pair to its pool.
type PairIndex struct {
	ID   string `json:"id"`
	Pair string `json:"pair"`
}

// Transaction groups the logical events emitted by one on-chain transaction.
type Transaction struct {
	ID          string   `json:"id"`
	BlockNumber uint64   `json:"blockNumber"`
	Timestamp   uint64   `json:"timestamp"`
	Mints       []string `json:"mints"`
	Burns       []string `json:"burns"`
	Swaps       []string `json:"swaps"`
}

// MintEvent is a liquidity addition. It stays pending until Sender is set.
type MintEvent struct {
	ID           string          `json:"id"`
	Transaction  string          `json:"transaction"`
	Timestamp    uint64          `json:"timestamp"`
	Pair         string          `json:"pair"`
	To           string          `json:"to"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Sender       string          `json:"sender,omitempty"`
	Amount0      decimal.Decimal `json:"amount0"`
	Amount1      decimal.Decimal `json:"amount1"`
	LogIndex     uint64          `json:"logIndex"`
	AmountUSD    decimal.Decimal `json:"amountUSD"`
	FeeTo        string          `json:"feeTo,omitempty"`
	FeeLiquidity decimal.Decimal `json:"feeLiquidity"`
}

// Complete reports whether the Mint log for this event has been applied.
func (m *MintEvent) Complete() bool {
	return m.Sender != ""
}

// BurnEvent is a liquidity removal. NeedsComplete is set while only the
// transfer into the pool has been seen.
type BurnEvent struct {
	ID            string          `json:"id"`
	Transaction   string          `json:"transaction"`
	Timestamp     uint64          `json:"timestamp"`
	Pair          string          `json:"pair"`
	Liquidity     decimal.Decimal `json:"liquidity"`
	Sender        string          `json:"sender,omitempty"`
	To            string          `json:"to,omitempty"`
	Amount0       decimal.Decimal `json:"amount0"`
	Amount1       decimal.Decimal `json:"amount1"`
	LogIndex      uint64          `json:"logIndex"`
	AmountUSD     decimal.Decimal `json:"amountUSD"`
	NeedsComplete bool            `json:"needsComplete"`
	FeeTo         string          `json:"feeTo,omitempty"`
	FeeLiquidity  decimal.Decimal `json:"feeLiquidity"`
}

type SwapEvent struct {
	ID          string          `json:"id"`
	Transaction string          `json:"transaction"`
	Timestamp   uint64          `json:"timestamp"`
	Pair        string          `json:"pair"`
	Sender      string          `json:"sender"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to"`
	Amount0In   decimal.Decimal `json:"amount0In"`
	Amount1In   decimal.Decimal `json:"amount1In"`
	Amount0Out  decimal.Decimal `json:"amount0Out"`
	Amount1Out  decimal.Decimal `json:"amount1Out"`
	LogIndex    uint64          `json:"logIndex"`
	AmountUSD   decimal.Decimal `json:"amountUSD"`
}

type User struct {
	ID string `json:"id"`
}

// LiquidityPosition is a holder's LP-token balance in one pair.
type LiquidityPosition struct {
	ID                    string          `json:"id"`
	Pair                  string          `json:"pair"`
	User                  string          `json:"user"`
	LiquidityTokenBalance decimal.Decimal `json:"liquidityTokenBalance"`
}

type PairDayData struct {
	ID                string          `json:"id"`
	Date              uint64          `json:"date"`
	PairAddress       string          `json:"pairAddress"`
	Token0            string          `json:"token0"`
	Token1            string          `json:"token1"`
	Reserve0          decimal.Decimal `json:"reserve0"`
	Reserve1          decimal.Decimal `json:"reserve1"`
	TotalSupply       decimal.Decimal `json:"totalSupply"`
	ReserveUSD        decimal.Decimal `json:"reserveUSD"`
	DailyVolumeToken0 decimal.Decimal `json:"dailyVolumeToken0"`
	DailyVolumeToken1 decimal.Decimal `json:"dailyVolumeToken1"`
	DailyVolumeUSD    decimal.Decimal `json:"dailyVolumeUSD"`
	DailyTxns         uint64          `json:"dailyTxns"`
}

type PairHourData struct {
	ID                 string          `json:"id"`
	HourStartUnix      uint64          `json:"hourStartUnix"`
	Pair               string          `json:"pair"`
	Reserve0           decimal.Decimal `json:"reserve0"`
	Reserve1           decimal.Decimal `json:"reserve1"`
	TotalSupply        decimal.Decimal `json:"totalSupply"`
	ReserveUSD         decimal.Decimal `json:"reserveUSD"`
	HourlyVolumeToken0 decimal.Decimal `json:"hourlyVolumeToken0"`
	HourlyVolumeToken1 decimal.Decimal `json:"hourlyVolumeToken1"`
	HourlyVolumeUSD    decimal.Decimal `json:"hourlyVolumeUSD"`
	HourlyTxns         uint64          `json:"hourlyTxns"`
}

// TokenBucketData is a token's rollup for one day or one hour.
type TokenBucketData struct {
	ID                  string          `json:"id"`
	Date                uint64          `json:"date"`
	Token               string          `json:"token"`
	VolumeToken         decimal.Decimal `json:"volumeToken"`
	VolumeETH           decimal.Decimal `json:"volumeETH"`
	VolumeUSD           decimal.Decimal `json:"volumeUSD"`
	Txns                uint64          `json:"txns"`
	TotalLiquidityToken decimal.Decimal `json:"totalLiquidityToken"`
	TotalLiquidityETH   decimal.Decimal `json:"totalLiquidityETH"`
	TotalLiquidityUSD   decimal.Decimal `json:"totalLiquidityUSD"`
	PriceUSD            decimal.Decimal `json:"priceUSD"`
}

// FactoryBucketData is the protocol rollup for one day or one hour.
type FactoryBucketData struct {
	ID                string          `json:"id"`
	Date              uint64          `json:"date"`
	VolumeETH         decimal.Decimal `json:"volumeETH"`
	VolumeUSD         decimal.Decimal `json:"volumeUSD"`
	VolumeUntracked   decimal.Decimal `json:"volumeUntracked"`
	TotalLiquidityETH decimal.Decimal `json:"totalLiquidityETH"`
	TotalLiquidityUSD decimal.Decimal `json:"totalLiquidityUSD"`
	TxCount           uint64          `json:"txCount"`
}

// Cursor is the position of the last applied log.
type Cursor struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint64 `json:"logIndex"`
}

// After reports whether the log at (block, index) comes after the cursor.
func (c Cursor) After(block, index uint64) bool {
	if block != c.BlockNumber {
		return block > c.BlockNumber
	}
	return index > c.LogIndex
}
