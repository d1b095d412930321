package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownOp       = errors.New("core: unknown operation")
	ErrRequestIDReused = errors.New("core: request id already used for a different operation")
	ErrMissingAmount   = errors.New("core: operation requires an amount")
	ErrMissingBorrower = errors.New("core: liquidation requires a borrower")
)

// PriceOracle is the price source the processor reads and, for OpSetPrice,
// overrides. Set enforces its own admin policy; AuthorizeSet checks it alone.
type PriceOracle interface {
	vault.PriceSource
	AuthorizeSet(ctx context.Context) error
	Set(ctx context.Context, price *big.Int) error
}

// Result is the outcome of one processed command.
type Result struct {
	Op       event.OpType
	OK       bool
	Sequence int64

	// Replayed is set when the request ID matched an earlier command and the
	// recorded result was returned without re-applying.
	Replayed bool

	// Envelope is nil for replays recovered from the journal.
	Envelope *event.Envelope

	fingerprint string
}

// Options configures a Processor. Zero values disable the optional outputs.
type Options struct {
	StartSequence int64
	StartHash     *[32]byte

	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker

	// Journal receives every envelope with a blocking send so none is lost.
	Journal chan<- event.Envelope
	// Publish receives envelopes with a non-blocking send; full means drop.
	Publish chan<- event.Envelope

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Clock   func() time.Time
}

// Processor serializes ledger commands and stamps each non-fatal outcome with
// a sequence and chained state hash.
type Processor struct {
	mu sync.Mutex

	ledger *vault.Ledger
	prices PriceOracle

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	journal chan<- event.Envelope
	publish chan<- event.Envelope

	metrics *observability.Metrics
	logger  zerolog.Logger
	clock   func() time.Time
}

func NewProcessor(ledger *vault.Ledger, prices PriceOracle, opts Options) *Processor {
	capacity := opts.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	hasher := NewStateHasher()
	if opts.StartHash != nil {
		hasher.Restore(*opts.StartHash)
	}

	p := &Processor{
		ledger:      ledger,
		prices:      prices,
		sequence:    opts.StartSequence,
		hasher:      hasher,
		idempotency: NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics, opts.Logger),
		journal:     opts.Journal,
		publish:     opts.Publish,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		clock:       clock,
	}

	// The gauge reports the effective price from the start, including the
	// default before any override.
	if price, err := ledger.CurrentPrice(context.Background()); err == nil {
		p.setPriceGauge(price)
	} else {
		p.logger.Warn().Err(err).Msg("price unavailable at startup")
	}
	return p
}

// Execute applies cmd. Fatal errors are returned as errors and leave state,
// sequence and hash chain untouched. Expected failures return OK=false and
// are still sequenced and journaled.
func (p *Processor) Execute(ctx context.Context, cmd event.Command) (Result, error) {
	start := time.Now()
	opName := cmd.Op.String()
	key := cmd.IdempotencyKey()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Step 1: validate arguments and authorize before anything is answered,
	// replays included
	touched, err := touchedAccounts(cmd)
	if err != nil {
		p.countOutcome(opName, "error")
		return Result{}, err
	}
	if err := p.authorize(ctx, cmd); err != nil {
		p.countOutcome(opName, "error")
		return Result{}, err
	}

	// Step 2: replay detection
	fingerprint := cmd.Fingerprint()
	if prior, dup := p.idempotency.Lookup(ctx, key); dup {
		if prior.fingerprint != fingerprint {
			p.countOutcome(opName, "error")
			return Result{}, fmt.Errorf("%w: %s was %s", ErrRequestIDReused, key, prior.Op)
		}
		prior.Replayed = true
		p.countOutcome(opName, "replayed")
		return prior, nil
	}

	// Step 3: capture state the envelope reports as "before"
	before, err := p.snapshot(ctx, touched)
	if err != nil {
		p.countOutcome(opName, "error")
		return Result{}, fmt.Errorf("%s: %w", opName, err)
	}
	price := p.priceString(ctx)

	// Step 4: dispatch
	ok, err := p.dispatch(ctx, cmd)
	if err != nil {
		p.countOutcome(opName, "error")
		p.logger.Warn().Err(err).
			Str("op", opName).
			Str("account", cmd.Account).
			Msg("operation failed")
		return Result{}, err
	}

	after, err := p.snapshot(ctx, touched)
	if err != nil {
		p.countOutcome(opName, "error")
		return Result{}, fmt.Errorf("%s: %w", opName, err)
	}
	if cmd.Op == event.OpSetPrice {
		price = cmd.Amount.String()
	}

	// Step 5: sequence and hash
	p.sequence++
	env := &event.Envelope{
		Sequence:     p.sequence,
		OperationID:  uuid.New(),
		RequestID:    key,
		Op:           cmd.Op,
		OpName:       opName,
		Account:      cmd.Account,
		Counterparty: cmd.Counterparty,
		Amount:       amountString(cmd.Amount),
		Price:        price,
		OK:           ok,
		Before:       before,
		After:        after,
		PrevHash:     p.hasher.GetPrevHash(),
		Timestamp:    p.clock().UTC(),
	}

	hashStart := time.Now()
	env.StateHash = p.hasher.ComputeHash(env.Sequence, OperationDigest(env))
	env.StateHashHex = hex.EncodeToString(env.StateHash[:])
	env.PrevHashHex = hex.EncodeToString(env.PrevHash[:])
	if p.metrics != nil {
		p.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 6: emit
	p.emit(*env)

	result := Result{Op: cmd.Op, OK: ok, Sequence: env.Sequence, Envelope: env, fingerprint: fingerprint}
	p.idempotency.Record(key, result)

	if ok {
		p.countOutcome(opName, "ok")
	} else {
		p.countOutcome(opName, "rejected")
	}
	if p.metrics != nil {
		p.metrics.OperationDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
		p.metrics.Sequence.Set(float64(p.sequence))
		if cmd.Op == event.OpSetPrice && ok {
			p.setPriceGauge(cmd.Amount)
		}
		if cmd.Op == event.OpLiquidate && ok {
			p.metrics.Liquidations.Inc()
		}
	}

	return result, nil
}

// authorize applies the same proof the operation itself requires: control of
// the acting account, or admin rights for a price override.
func (p *Processor) authorize(ctx context.Context, cmd event.Command) error {
	if cmd.Op == event.OpSetPrice {
		if p.prices == nil {
			return fmt.Errorf("set price: %w", vault.ErrPriceUnavailable)
		}
		if err := p.prices.AuthorizeSet(ctx); err != nil {
			return fmt.Errorf("set price: %w", err)
		}
		return nil
	}
	if err := p.ledger.Authorize(ctx, vault.Account(cmd.Account)); err != nil {
		return fmt.Errorf("%s: %w", cmd.Op, err)
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, cmd event.Command) (bool, error) {
	account := vault.Account(cmd.Account)
	switch cmd.Op {
	case event.OpInit:
		return true, p.ledger.Init(ctx, account)
	case event.OpDeposit:
		return true, p.ledger.Deposit(ctx, account, cmd.Amount)
	case event.OpWithdraw:
		return p.ledger.Withdraw(ctx, account, cmd.Amount)
	case event.OpBorrow:
		return p.ledger.Borrow(ctx, account, cmd.Amount)
	case event.OpRepay:
		return p.ledger.Repay(ctx, account, cmd.Amount)
	case event.OpLiquidate:
		return p.ledger.Liquidate(ctx, account, vault.Account(cmd.Counterparty))
	case event.OpSetPrice:
		if p.prices == nil {
			return false, fmt.Errorf("set price: %w", vault.ErrPriceUnavailable)
		}
		if err := p.prices.Set(ctx, cmd.Amount); err != nil {
			return false, fmt.Errorf("set price: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownOp, cmd.Op)
	}
}

// emit sends to the journal (blocking) and the publish channel (lossy).
func (p *Processor) emit(env event.Envelope) {
	if p.journal != nil {
		select {
		case p.journal <- env:
		default:
			if p.metrics != nil {
				p.metrics.JournalBackpressure.Inc()
			}
			p.journal <- env
		}
	}

	if p.publish != nil {
		select {
		case p.publish <- env:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}
}

func touchedAccounts(cmd event.Command) ([]vault.Account, error) {
	switch cmd.Op {
	case event.OpInit:
		return []vault.Account{vault.Account(cmd.Account)}, nil
	case event.OpDeposit, event.OpWithdraw, event.OpBorrow, event.OpRepay:
		if cmd.Amount == nil {
			return nil, fmt.Errorf("%s: %w", cmd.Op, ErrMissingAmount)
		}
		return []vault.Account{vault.Account(cmd.Account)}, nil
	case event.OpLiquidate:
		if cmd.Counterparty == "" {
			return nil, ErrMissingBorrower
		}
		if cmd.Counterparty == cmd.Account {
			return []vault.Account{vault.Account(cmd.Account)}, nil
		}
		return []vault.Account{vault.Account(cmd.Account), vault.Account(cmd.Counterparty)}, nil
	case event.OpSetPrice:
		if cmd.Amount == nil {
			return nil, fmt.Errorf("%s: %w", cmd.Op, ErrMissingAmount)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, cmd.Op)
	}
}

func (p *Processor) snapshot(ctx context.Context, accounts []vault.Account) (map[string]event.VaultState, error) {
	if len(accounts) == 0 {
		return nil, nil
	}
	out := make(map[string]event.VaultState, len(accounts))
	for _, a := range accounts {
		v, _, err := p.ledger.Get(ctx, a)
		if err != nil {
			return nil, err
		}
		if v.Collateral == nil {
			v = vault.Zeroed()
		}
		out[string(a)] = event.VaultState{
			Collateral: v.Collateral.String(),
			Debt:       v.Debt.String(),
		}
	}
	return out, nil
}

// priceString reads the price for the envelope. A price outage must not fail
// operations that do not depend on it, so errors yield an empty string.
func (p *Processor) priceString(ctx context.Context) string {
	price, err := p.ledger.CurrentPrice(ctx)
	if err != nil {
		return ""
	}
	return price.String()
}

func (p *Processor) setPriceGauge(price *big.Int) {
	if p.metrics == nil || price == nil {
		return
	}
	f, _ := new(big.Float).SetInt(price).Float64()
	p.metrics.Price.Set(f)
}

func (p *Processor) countOutcome(op, outcome string) {
	if p.metrics != nil {
		p.metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// VaultView is a read-model of one vault at the current price.
type VaultView struct {
	Account  vault.Account
	Vault    vault.Vault
	Found    bool
	Price    *big.Int
	Health   vault.Health
	Ratio    decimal.Decimal
	HasRatio bool
}

// Get returns the stored vault; found is false if it was never created.
func (p *Processor) Get(ctx context.Context, account vault.Account) (vault.Vault, bool, error) {
	return p.ledger.Get(ctx, account)
}

// View returns the vault together with its health at the current price.
func (p *Processor) View(ctx context.Context, account vault.Account) (VaultView, error) {
	if err := account.Validate(); err != nil {
		return VaultView{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, found, err := p.ledger.Get(ctx, account)
	if err != nil {
		return VaultView{}, err
	}
	price, err := p.ledger.CurrentPrice(ctx)
	if err != nil {
		return VaultView{}, err
	}
	if !found {
		v = vault.Zeroed()
	}
	health, err := vault.Classify(v, price)
	if err != nil {
		return VaultView{}, fmt.Errorf("classify %s: %w", account, err)
	}
	ratio, hasRatio := vault.CollateralRatio(v, price)

	return VaultView{
		Account:  account,
		Vault:    v,
		Found:    found,
		Price:    price,
		Health:   health,
		Ratio:    ratio,
		HasRatio: hasRatio,
	}, nil
}

// Price returns the current price.
func (p *Processor) Price(ctx context.Context) (*big.Int, error) {
	return p.ledger.CurrentPrice(ctx)
}

// Sequence returns the last assigned sequence.
func (p *Processor) Sequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

// StateHash returns the current chain tip.
func (p *Processor) StateHash() [32]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasher.GetPrevHash()
}
