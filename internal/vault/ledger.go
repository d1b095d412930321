package vault

import (
	"context"
	"fmt"
	"math/big"

	vmath "VaultLedger/internal/math"

	"github.com/rs/zerolog"
)

// Store is the key-value substrate the ledger is persisted through. Get
// reports found=false for a key that was never set.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// PriceSource yields the current price of one collateral unit in debt units.
type PriceSource interface {
	Price(ctx context.Context) (*big.Int, error)
}

// Authorizer proves that the caller in ctx controls account.
type Authorizer interface {
	Authorize(ctx context.Context, account Account) error
}

// Ledger applies vault state transitions. Every mutating call loads the whole
// mapping, mutates a private copy and saves it with a single Set, so a failed
// call never leaves a partial write behind. Callers must serialize calls
// against the same store.
type Ledger struct {
	store  Store
	prices PriceSource
	auth   Authorizer
	logger zerolog.Logger
}

func NewLedger(store Store, prices PriceSource, auth Authorizer, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		prices: prices,
		auth:   auth,
		logger: logger,
	}
}

// Init creates a zeroed vault. It fails with ErrVaultExists when the account
// already has an entry.
func (l *Ledger) Init(ctx context.Context, account Account) error {
	if err := l.authorize(ctx, account); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return fmt.Errorf("init %s: %w", account, err)
	}
	if _, exists := book[account]; exists {
		return fmt.Errorf("init %s: %w", account, ErrVaultExists)
	}

	book[account] = Zeroed()
	if err := l.save(ctx, book); err != nil {
		return fmt.Errorf("init %s: %w", account, err)
	}
	return nil
}

// Deposit adds amount to the account's collateral, creating the vault if needed.
func (l *Ledger) Deposit(ctx context.Context, account Account, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	}
	if err := l.authorize(ctx, account); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	}

	v, _ := book.Lookup(account)
	if v.Collateral, err = vmath.CheckedAdd(v.Collateral, amount); err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	}

	book[account] = v
	if err := l.save(ctx, book); err != nil {
		return fmt.Errorf("deposit %s: %w", account, err)
	}
	return nil
}

// Withdraw removes amount from the account's collateral. It reports false when
// amount exceeds the collateral. Outstanding debt is not re-checked against
// the remaining collateral; an under-collateralized result is left for
// liquidation.
func (l *Ledger) Withdraw(ctx context.Context, account Account, amount *big.Int) (bool, error) {
	if err := checkAmount(amount); err != nil {
		return false, fmt.Errorf("withdraw %s: %w", account, err)
	}
	if err := l.authorize(ctx, account); err != nil {
		return false, fmt.Errorf("withdraw: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return false, fmt.Errorf("withdraw %s: %w", account, err)
	}

	v, _ := book.Lookup(account)
	if amount.Cmp(v.Collateral) > 0 {
		l.logger.Debug().
			Str("account", string(account)).
			Str("amount", amount.String()).
			Str("collateral", v.Collateral.String()).
			Msg("withdraw rejected: insufficient collateral")
		return false, nil
	}

	if v.Collateral, err = vmath.CheckedSub(v.Collateral, amount); err != nil {
		return false, fmt.Errorf("withdraw %s: %w", account, err)
	}

	book[account] = v
	if err := l.save(ctx, book); err != nil {
		return false, fmt.Errorf("withdraw %s: %w", account, err)
	}
	return true, nil
}

// Borrow increases the account's debt by amount if the resulting debt stays
// collateralized at the current price. Exactly 150% is accepted.
func (l *Ledger) Borrow(ctx context.Context, account Account, amount *big.Int) (bool, error) {
	if err := checkAmount(amount); err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}
	if err := l.authorize(ctx, account); err != nil {
		return false, fmt.Errorf("borrow: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}

	price, err := l.price(ctx)
	if err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}

	v, _ := book.Lookup(account)
	newDebt, err := vmath.CheckedAdd(v.Debt, amount)
	if err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}

	ok, err := Collateralized(v.Collateral, newDebt, price)
	if err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}
	if !ok {
		l.logger.Debug().
			Str("account", string(account)).
			Str("collateral", v.Collateral.String()).
			Str("new_debt", newDebt.String()).
			Str("price", price.String()).
			Msg("borrow rejected: below minimum collateral ratio")
		return false, nil
	}

	v.Debt = newDebt
	book[account] = v
	if err := l.save(ctx, book); err != nil {
		return false, fmt.Errorf("borrow %s: %w", account, err)
	}
	return true, nil
}

// Repay reduces the account's debt by min(amount, debt). Any excess is
// discarded. It reports false only when there is no debt; a zero amount
// against outstanding debt reports true without changing state.
func (l *Ledger) Repay(ctx context.Context, account Account, amount *big.Int) (bool, error) {
	if err := checkAmount(amount); err != nil {
		return false, fmt.Errorf("repay %s: %w", account, err)
	}
	if err := l.authorize(ctx, account); err != nil {
		return false, fmt.Errorf("repay: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return false, fmt.Errorf("repay %s: %w", account, err)
	}

	v, _ := book.Lookup(account)
	if !v.HasDebt() {
		l.logger.Debug().Str("account", string(account)).Msg("repay rejected: no outstanding debt")
		return false, nil
	}

	repaid := vmath.Min(amount, v.Debt)
	if v.Debt, err = vmath.CheckedSub(v.Debt, repaid); err != nil {
		return false, fmt.Errorf("repay %s: %w", account, err)
	}

	book[account] = v
	if err := l.save(ctx, book); err != nil {
		return false, fmt.Errorf("repay %s: %w", account, err)
	}
	return true, nil
}

// Liquidate seizes an under-collateralized borrower's entire collateral for
// the liquidator and clears the borrower's debt. Authorization is checked
// against the liquidator. Exactly 150% is not liquidatable.
//
// When liquidator and borrower are the same account the borrower reset is
// applied last, so the vault ends zeroed.
func (l *Ledger) Liquidate(ctx context.Context, liquidator, borrower Account) (bool, error) {
	if err := borrower.Validate(); err != nil {
		return false, fmt.Errorf("liquidate: %w", err)
	}
	if err := l.authorize(ctx, liquidator); err != nil {
		return false, fmt.Errorf("liquidate: %w", err)
	}

	book, err := l.load(ctx)
	if err != nil {
		return false, fmt.Errorf("liquidate %s: %w", borrower, err)
	}

	b, _ := book.Lookup(borrower)
	lq, _ := book.Lookup(liquidator)
	if !b.HasDebt() {
		l.logger.Debug().Str("borrower", string(borrower)).Msg("liquidate rejected: no outstanding debt")
		return false, nil
	}

	price, err := l.price(ctx)
	if err != nil {
		return false, fmt.Errorf("liquidate %s: %w", borrower, err)
	}

	eligible, err := Liquidatable(b.Collateral, b.Debt, price)
	if err != nil {
		return false, fmt.Errorf("liquidate %s: %w", borrower, err)
	}
	if !eligible {
		l.logger.Debug().
			Str("borrower", string(borrower)).
			Str("collateral", b.Collateral.String()).
			Str("debt", b.Debt.String()).
			Str("price", price.String()).
			Msg("liquidate rejected: vault is healthy")
		return false, nil
	}

	if lq.Collateral, err = vmath.CheckedAdd(lq.Collateral, b.Collateral); err != nil {
		return false, fmt.Errorf("liquidate %s: %w", borrower, err)
	}

	book[liquidator] = lq
	book[borrower] = Zeroed()
	if err := l.save(ctx, book); err != nil {
		return false, fmt.Errorf("liquidate %s: %w", borrower, err)
	}

	l.logger.Info().
		Str("liquidator", string(liquidator)).
		Str("borrower", string(borrower)).
		Str("seized", b.Collateral.String()).
		Str("debt_cleared", b.Debt.String()).
		Msg("vault liquidated")
	return true, nil
}

// Get returns a copy of the account's vault; found is false if it was never
// created.
func (l *Ledger) Get(ctx context.Context, account Account) (Vault, bool, error) {
	book, err := l.load(ctx)
	if err != nil {
		return Vault{}, false, fmt.Errorf("get %s: %w", account, err)
	}
	v, found := book.Lookup(account)
	if !found {
		return Vault{}, false, nil
	}
	return v, true, nil
}

// Snapshot returns a copy of every stored vault.
func (l *Ledger) Snapshot(ctx context.Context) (Book, error) {
	book, err := l.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return book, nil
}

// CurrentPrice exposes the price the next borrow or liquidation would use.
func (l *Ledger) CurrentPrice(ctx context.Context) (*big.Int, error) {
	return l.price(ctx)
}

// Authorize checks that the caller in ctx controls account, exactly as the
// mutating operations do.
func (l *Ledger) Authorize(ctx context.Context, account Account) error {
	return l.authorize(ctx, account)
}

func (l *Ledger) authorize(ctx context.Context, account Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if l.auth == nil {
		return fmt.Errorf("%w: %s: no authorizer configured", ErrUnauthorized, account)
	}
	if err := l.auth.Authorize(ctx, account); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnauthorized, account, err)
	}
	return nil
}

func (l *Ledger) price(ctx context.Context) (*big.Int, error) {
	if l.prices == nil {
		return nil, fmt.Errorf("%w: no price source configured", ErrPriceUnavailable)
	}
	p, err := l.prices.Price(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if p == nil || p.Sign() < 0 || !vmath.InRange(p) {
		return nil, fmt.Errorf("%w: price %v out of range", ErrPriceUnavailable, p)
	}
	return vmath.Clone(p), nil
}

func (l *Ledger) load(ctx context.Context) (Book, error) {
	data, found, err := l.store.Get(ctx, VaultsSlot)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrStorage, VaultsSlot, err)
	}
	if !found {
		return make(Book), nil
	}
	return DecodeBook(data)
}

func (l *Ledger) save(ctx context.Context, book Book) error {
	data, err := EncodeBook(book)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, VaultsSlot, data); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStorage, VaultsSlot, err)
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if !vmath.InRange(amount) {
		return ErrOverflow
	}
	return nil
}
