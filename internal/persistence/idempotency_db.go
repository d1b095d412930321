package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
)

// PostgresIdempotencyChecker answers tier-2 dedup lookups from the journal.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// LookupRequest returns the recorded outcome and command columns for a
// request ID.
func (pic *PostgresIdempotencyChecker) LookupRequest(ctx context.Context, requestID string) (core.RecordedOutcome, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var (
		opType string
		out    core.RecordedOutcome
	)
	err := pic.db.QueryRowContext(ctx, `
		SELECT op_type, account, COALESCE(counterparty, ''), COALESCE(amount::TEXT, ''), ok, sequence
		FROM ledger.operations
		WHERE request_id = $1
		LIMIT 1
	`, requestID).Scan(&opType, &out.Account, &out.Counterparty, &out.Amount, &out.OK, &out.Sequence)

	if errors.Is(err, sql.ErrNoRows) {
		return core.RecordedOutcome{}, false, nil
	}
	if err != nil {
		return core.RecordedOutcome{}, false, err
	}

	op, err := event.ParseOpType(opType)
	if err != nil {
		return core.RecordedOutcome{}, false, err
	}
	out.Op = op
	return out, true, nil
}
