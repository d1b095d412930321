package ingestion

import (
	"context"
	"errors"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"

	"github.com/rs/zerolog"
)

// Executor applies a command to the ledger. *core.Processor implements it.
type Executor interface {
	Execute(ctx context.Context, cmd event.Command) (core.Result, error)
}

// PriceFeed turns price feed messages into set_price operations executed as
// the oracle identity. Stale observations are acked without being applied.
type PriceFeed struct {
	exec      Executor
	identity  string
	validator *core.PriceSequenceValidator
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewPriceFeed(exec Executor, identity string, metrics *observability.Metrics, logger zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		exec:      exec,
		identity:  identity,
		validator: core.NewPriceSequenceValidator(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Validator exposes the per-source sequence state, mainly for recovery.
func (pf *PriceFeed) Validator() *core.PriceSequenceValidator {
	return pf.validator
}

// Run handles messages until ctx is cancelled or in is closed.
func (pf *PriceFeed) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			pf.Handle(ctx, raw)
		}
	}
}

// Handle processes a single message and settles it.
func (pf *PriceFeed) Handle(ctx context.Context, raw RawEvent) {
	update, price, err := ParsePriceUpdate(raw)
	if err != nil {
		pf.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed price message")
		pf.count("invalid")
		raw.term()
		return
	}

	apply, gap := pf.validator.Check(update.Source, update.Sequence)
	if !apply {
		pf.logger.Debug().
			Str("source", update.Source).
			Int64("sequence", update.Sequence).
			Int64("last", pf.validator.LastSequence(update.Source)).
			Msg("stale price ignored")
		pf.count("stale")
		raw.ack()
		return
	}

	cmd := event.Command{
		Op:      event.OpSetPrice,
		Account: pf.identity,
		Amount:  price,
	}
	if update.Sequence > 0 {
		cmd.RequestID = update.IdempotencyKey()
	}

	result, err := pf.exec.Execute(auth.WithPrincipal(ctx, pf.identity), cmd)
	if err != nil {
		pf.count("error")
		if permanent(err) {
			pf.logger.Error().Err(err).Str("source", update.Source).Msg("price rejected")
			raw.term()
			return
		}
		pf.logger.Warn().Err(err).Str("source", update.Source).Msg("price apply failed, will retry")
		raw.nak()
		return
	}

	pf.validator.Advance(update.Source, update.Sequence, gap)
	if gap && pf.metrics != nil {
		pf.metrics.PriceSequenceGap.WithLabelValues(update.Source).Inc()
	}
	if result.Replayed {
		pf.count("replayed")
	} else {
		pf.count("applied")
	}
	raw.ack()
}

// permanent reports errors a redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, oracle.ErrUnauthorized) ||
		errors.Is(err, oracle.ErrInvalidPrice) ||
		errors.Is(err, core.ErrRequestIDReused)
}

func (pf *PriceFeed) count(outcome string) {
	if pf.metrics != nil {
		pf.metrics.PriceUpdates.WithLabelValues(outcome).Inc()
	}
}
