package vault

import (
	"errors"

	vmath "VaultLedger/internal/math"
)

// Fatal errors. An operation that returns any of these has left the ledger
// untouched.
var (
	ErrUnauthorized     = errors.New("vault: caller not authorized for account")
	ErrVaultExists      = errors.New("vault: vault already exists")
	ErrInvalidAmount    = errors.New("vault: amount must be a non-negative integer")
	ErrInvalidAccount   = errors.New("vault: invalid account")
	ErrOverflow         = vmath.ErrOverflow
	ErrPriceUnavailable = errors.New("vault: price unavailable")
	ErrStorage          = errors.New("vault: storage failure")
	ErrCorruptState     = errors.New("vault: stored ledger is corrupt")
	ErrInvariant        = errors.New("vault: invariant violated")
)
