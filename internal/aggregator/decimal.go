package aggregator

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ZeroAddress is the lowercase hex form of the zero address used by mint and burn transfers.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// significantDigits is the precision of quotients, matching a 128-bit decimal.
const significantDigits = 34

var (
	zeroBD = decimal.Zero
	oneBD  = decimal.NewFromInt(1)
	twoBD  = decimal.NewFromInt(2)
	halfBD = decimal.New(5, -1)
)

// ConvertTokenToDecimal scales a raw on-chain integer amount by 10^decimals.
func ConvertTokenToDecimal(amount *big.Int, decimals int64) decimal.Decimal {
	if amount == nil {
		return zeroBD
	}
	if decimals == 0 {
		return decimal.NewFromBigInt(amount, 0)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// safeDiv returns a/b to significantDigits significant digits, or zero when b
// is zero. A nonzero a/b never rounds to zero, however small.
func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() || a.IsZero() {
		return zeroBD
	}
	return a.DivRound(b, significantDigits-quotientMagnitude(a, b))
}

// quotientMagnitude estimates the number of integer digits of a/b, negative
// when a/b < 1.
func quotientMagnitude(a, b decimal.Decimal) int32 {
	return int32(a.NumDigits()) + a.Exponent() - int32(b.NumDigits()) - b.Exponent()
}

// normalizeAddress lowercases a hex address so it can be used as an entity ID.
func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
