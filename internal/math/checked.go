package math

import (
	"errors"
	"math/big"
)

// ErrOverflow is returned when a value or intermediate leaves the signed
// 128-bit range. Ledger amounts never wrap.
var ErrOverflow = errors.New("arithmetic overflow")

var (
	// MaxInt128 is 2^127 - 1.
	MaxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	// MinInt128 is -2^127.
	MinInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// InRange reports whether v fits in a signed 128-bit integer.
func InRange(v *big.Int) bool {
	if v == nil {
		return false
	}
	return v.Cmp(MinInt128) >= 0 && v.Cmp(MaxInt128) <= 0
}

func checked(v *big.Int) (*big.Int, error) {
	if !InRange(v) {
		return nil, ErrOverflow
	}
	return v, nil
}

// CheckedAdd returns a + b as a fresh value, or ErrOverflow.
func CheckedAdd(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Add(a, b))
}

// CheckedSub returns a - b as a fresh value, or ErrOverflow.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Sub(a, b))
}

// CheckedMul returns a * b as a fresh value, or ErrOverflow.
func CheckedMul(a, b *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Mul(a, b))
}

// CheckedMulInt64 multiplies a by a small constant factor.
func CheckedMulInt64(a *big.Int, factor int64) (*big.Int, error) {
	return CheckedMul(a, big.NewInt(factor))
}

// Min returns a fresh copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone copies v; a nil input yields zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Parse decodes a base-10 integer and rejects anything outside 128 bits.
func Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid integer: " + s)
	}
	return checked(v)
}
