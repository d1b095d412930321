package vault

import (
	"math/big"

	vmath "VaultLedger/internal/math"

	"github.com/shopspring/decimal"
)

// Collateral value must be at least MinRatioPercent percent of debt.
const (
	MinRatioPercent = 150
	percentBase     = 100
)

// Health classifies a vault against the collateralization policy at a price.
type Health int

const (
	HealthNoDebt Health = iota
	HealthHealthy
	HealthLiquidatable
)

func (h Health) String() string {
	switch h {
	case HealthNoDebt:
		return "no_debt"
	case HealthHealthy:
		return "healthy"
	case HealthLiquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

// Collateralized reports collateral * price * 100 >= debt * 150. Equality is
// collateralized. Every product is overflow-checked.
func Collateralized(collateral, debt, price *big.Int) (bool, error) {
	value, err := vmath.CheckedMul(collateral, price)
	if err != nil {
		return false, err
	}
	lhs, err := vmath.CheckedMulInt64(value, percentBase)
	if err != nil {
		return false, err
	}
	rhs, err := vmath.CheckedMulInt64(debt, MinRatioPercent)
	if err != nil {
		return false, err
	}
	return lhs.Cmp(rhs) >= 0, nil
}

// Liquidatable reports debt > 0 and collateral value strictly below 150% of it.
func Liquidatable(collateral, debt, price *big.Int) (bool, error) {
	if debt.Sign() == 0 {
		return false, nil
	}
	ok, err := Collateralized(collateral, debt, price)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Classify returns the vault's health at price.
func Classify(v Vault, price *big.Int) (Health, error) {
	if !v.HasDebt() {
		return HealthNoDebt, nil
	}
	liq, err := Liquidatable(vmath.Clone(v.Collateral), vmath.Clone(v.Debt), price)
	if err != nil {
		return 0, err
	}
	if liq {
		return HealthLiquidatable, nil
	}
	return HealthHealthy, nil
}

// CollateralRatio returns collateral value as a percentage of debt, rounded to
// two decimal places. ok is false for a vault without debt.
func CollateralRatio(v Vault, price *big.Int) (decimal.Decimal, bool) {
	value := new(big.Int).Mul(vmath.Clone(v.Collateral), price)
	return vmath.PercentRatio(value, vmath.Clone(v.Debt))
}
