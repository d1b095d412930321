package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/vault"

	"github.com/rs/zerolog"
)

// PriceSlot is the store key holding the current price as a decimal string.
const PriceSlot = "price"

var (
	ErrInvalidPrice = errors.New("oracle: price must be a non-negative 128-bit integer")
	ErrUnauthorized = errors.New("oracle: caller may not set the price")
)

// DefaultPrice is used while the price slot has never been written: one unit
// of collateral is worth one unit of debt.
func DefaultPrice() *big.Int { return big.NewInt(1) }

// AdminAuthorizer decides whether the caller in ctx may override the price.
type AdminAuthorizer interface {
	AuthorizeAdmin(ctx context.Context) error
}

// Static always reports the same price.
type Static struct {
	price *big.Int
}

func NewStatic(price int64) Static {
	return Static{price: big.NewInt(price)}
}

func (s Static) Price(context.Context) (*big.Int, error) {
	if s.price == nil {
		return DefaultPrice(), nil
	}
	return vmath.Clone(s.price), nil
}

// Slot is a price source persisted in the ledger's store under PriceSlot. Set
// is restricted to identities accepted by the AdminAuthorizer.
type Slot struct {
	mu     sync.Mutex
	store  vault.Store
	admin  AdminAuthorizer
	logger zerolog.Logger
}

func NewSlot(store vault.Store, admin AdminAuthorizer, logger zerolog.Logger) *Slot {
	return &Slot{store: store, admin: admin, logger: logger}
}

// Price reads the slot, falling back to DefaultPrice when it is absent.
func (s *Slot) Price(ctx context.Context) (*big.Int, error) {
	data, found, err := s.store.Get(ctx, PriceSlot)
	if err != nil {
		return nil, fmt.Errorf("read price slot: %w", err)
	}
	if !found {
		return DefaultPrice(), nil
	}
	p, err := decodePrice(data)
	if err != nil {
		return nil, fmt.Errorf("read price slot: %w", err)
	}
	return p, nil
}

// AuthorizeSet checks that the caller in ctx may override the price.
func (s *Slot) AuthorizeSet(ctx context.Context) error {
	if s.admin == nil {
		return fmt.Errorf("%w: no admin policy configured", ErrUnauthorized)
	}
	if err := s.admin.AuthorizeAdmin(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// Set overwrites the current price.
func (s *Slot) Set(ctx context.Context, price *big.Int) error {
	if err := s.AuthorizeSet(ctx); err != nil {
		return err
	}
	if err := ValidatePrice(price); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(ctx, PriceSlot, []byte(price.String())); err != nil {
		return fmt.Errorf("write price slot: %w", err)
	}
	s.logger.Info().Str("price", price.String()).Msg("price updated")
	return nil
}

// ValidatePrice rejects nil, negative and out-of-range prices. Zero is allowed.
func ValidatePrice(price *big.Int) error {
	if price == nil || price.Sign() < 0 || !vmath.InRange(price) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return nil
}

func decodePrice(data []byte) (*big.Int, error) {
	p, err := vmath.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if p.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, p)
	}
	return p, nil
}
