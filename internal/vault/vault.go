package vault

import (
	"fmt"
	"math/big"
	"strings"

	vmath "VaultLedger/internal/math"
)

// Account is the opaque identity a vault is keyed by.
type Account string

// Validate rejects empty or whitespace-padded identities.
func (a Account) Validate() error {
	if a == "" {
		return fmt.Errorf("%w: empty account", ErrInvalidAccount)
	}
	if strings.TrimSpace(string(a)) != string(a) {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidAccount, string(a))
	}
	return nil
}

// Vault is the per-account collateral and debt record. Amounts are in the
// smallest unit of the collateral and debt assets respectively.
type Vault struct {
	Collateral *big.Int
	Debt       *big.Int
}

// Zeroed returns {0, 0}, the value of an absent vault.
func Zeroed() Vault {
	return Vault{Collateral: vmath.Zero(), Debt: vmath.Zero()}
}

// Clone deep-copies v so callers can never alias ledger state.
func (v Vault) Clone() Vault {
	return Vault{Collateral: vmath.Clone(v.Collateral), Debt: vmath.Clone(v.Debt)}
}

// IsZero reports whether both balances are zero.
func (v Vault) IsZero() bool {
	return sign(v.Collateral) == 0 && sign(v.Debt) == 0
}

// HasDebt reports whether any debt is outstanding.
func (v Vault) HasDebt() bool {
	return sign(v.Debt) > 0
}

// Equal compares balances by value.
func (v Vault) Equal(o Vault) bool {
	return vmath.Clone(v.Collateral).Cmp(vmath.Clone(o.Collateral)) == 0 &&
		vmath.Clone(v.Debt).Cmp(vmath.Clone(o.Debt)) == 0
}

func (v Vault) String() string {
	return fmt.Sprintf("{collateral:%s debt:%s}", vmath.Clone(v.Collateral), vmath.Clone(v.Debt))
}

func (v Vault) checkInvariant() error {
	if sign(v.Collateral) < 0 || sign(v.Debt) < 0 {
		return fmt.Errorf("%w: negative balance %s", ErrInvariant, v)
	}
	return nil
}

func sign(x *big.Int) int {
	if x == nil {
		return 0
	}
	return x.Sign()
}

// Book is the in-memory image of the whole ledger mapping.
type Book map[Account]Vault

// Lookup returns the stored vault or a zeroed one, plus whether it existed.
func (b Book) Lookup(account Account) (Vault, bool) {
	v, ok := b[account]
	if !ok {
		return Zeroed(), false
	}
	return v.Clone(), true
}
