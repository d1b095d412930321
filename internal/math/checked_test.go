package math_test

import (
	"errors"
	"math/big"
	"testing"

	vmath "VaultLedger/internal/math"
)

func TestCheckedAdd_Overflow(t *testing.T) {
	if _, err := vmath.CheckedAdd(vmath.MaxInt128, big.NewInt(1)); !errors.Is(err, vmath.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
	got, err := vmath.CheckedAdd(vmath.MaxInt128, big.NewInt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(vmath.MaxInt128) != 0 {
		t.Errorf("got %s, want max", got)
	}
	// Result must not alias the operand.
	got.SetInt64(0)
	if vmath.MaxInt128.Sign() <= 0 {
		t.Fatal("MaxInt128 was mutated through the result")
	}
}

func TestCheckedSub_Underflow(t *testing.T) {
	if _, err := vmath.CheckedSub(vmath.MinInt128, big.NewInt(1)); !errors.Is(err, vmath.ErrOverflow) {
		t.Fatalf("got %v, want ErrOverflow", err)
	}
}

func TestCheckedMul(t *testing.T) {
	half := new(big.Int).Rsh(vmath.MaxInt128, 1)
	if _, err := vmath.CheckedMulInt64(half, 2); err != nil {
		t.Fatalf("half*2 should fit: %v", err)
	}
	if _, err := vmath.CheckedMulInt64(half, 3); !errors.Is(err, vmath.ErrOverflow) {
		t.Fatalf("half*3: got %v, want ErrOverflow", err)
	}
}

func TestParse(t *testing.T) {
	v, err := vmath.Parse("170141183460469231731687303715884105727")
	if err != nil {
		t.Fatalf("parse max: %v", err)
	}
	if v.Cmp(vmath.MaxInt128) != 0 {
		t.Errorf("got %s", v)
	}
	if _, err := vmath.Parse("170141183460469231731687303715884105728"); !errors.Is(err, vmath.ErrOverflow) {
		t.Errorf("max+1: got %v, want ErrOverflow", err)
	}
	if _, err := vmath.Parse("12abc"); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestMinAndClone(t *testing.T) {
	a, b := big.NewInt(3), big.NewInt(5)
	m := vmath.Min(a, b)
	m.SetInt64(99)
	if a.Int64() != 3 {
		t.Error("Min returned an alias of its argument")
	}
	if vmath.Clone(nil).Sign() != 0 {
		t.Error("Clone(nil) should be zero")
	}
}

func TestPercentRatio(t *testing.T) {
	r, ok := vmath.PercentRatio(big.NewInt(300), big.NewInt(200))
	if !ok || r.StringFixed(2) != "150.00" {
		t.Errorf("got %s ok=%v, want 150.00", r.StringFixed(2), ok)
	}
	if _, ok := vmath.PercentRatio(big.NewInt(1), big.NewInt(0)); ok {
		t.Error("zero base should be undefined")
	}
}
