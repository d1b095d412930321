package math

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PercentRatio returns value * 100 / base as a decimal rounded to two places.
// ok is false when base is zero.
func PercentRatio(value, base *big.Int) (decimal.Decimal, bool) {
	if base == nil || base.Sign() == 0 {
		return decimal.Zero, false
	}
	num := decimal.NewFromBigInt(value, 0).Mul(decimal.NewFromInt(100))
	den := decimal.NewFromBigInt(base, 0)
	return num.DivRound(den, 2), true
}
