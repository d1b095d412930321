package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"VaultLedger/internal/event"
)

// JournalWriter writes processed operations to ledger.operations using
// multi-row INSERTs inside one transaction per batch.
type JournalWriter struct {
	db *sql.DB
}

func NewJournalWriter(db *sql.DB) *JournalWriter {
	return &JournalWriter{db: db}
}

const operationColumns = 13

// WriteBatch inserts envelopes. Rows that already exist (same sequence or
// request ID) are skipped so a retried batch is idempotent.
func (w *JournalWriter) WriteBatch(ctx context.Context, envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.operations
		(sequence, operation_id, request_id, op_type, account, counterparty, amount, price,
		 ok, payload, state_hash, prev_hash, created_at)
		VALUES `

	values := make([]string, 0, len(envs))
	args := make([]interface{}, 0, len(envs)*operationColumns)

	for i, e := range envs {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal envelope %d: %w", e.Sequence, err)
		}

		placeholders := make([]string, operationColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", i*operationColumns+c+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		args = append(args,
			e.Sequence, e.OperationID, nullString(e.RequestID), e.Op.String(),
			e.Account, nullString(e.Counterparty), nullString(e.Amount), nullString(e.Price),
			e.OK, payload, e.StateHash[:], e.PrevHash[:], e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT DO NOTHING"

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert operations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit operations: %w", err)
	}
	return nil
}

// JournalTip returns the last persisted sequence and state hash so a restarted
// processor can continue the chain. found is false for an empty journal.
func (w *JournalWriter) JournalTip(ctx context.Context) (int64, [32]byte, bool, error) {
	var (
		seq  int64
		hash []byte
		tip  [32]byte
	)
	err := w.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM ledger.operations ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tip, false, nil
	}
	if err != nil {
		return 0, tip, false, fmt.Errorf("read journal tip: %w", err)
	}
	if len(hash) != len(tip) {
		return 0, tip, false, fmt.Errorf("journal tip %d: state hash has %d bytes", seq, len(hash))
	}
	copy(tip[:], hash)
	return seq, tip, true, nil
}

// PriceFeedPositions returns the highest journaled sequence per price feed
// source, recovered from the request IDs the feed assigns.
func (w *JournalWriter) PriceFeedPositions(ctx context.Context) (map[string]int64, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT request_id FROM ledger.operations
		WHERE op_type = $1 AND request_id LIKE '%:price:%'
	`, event.OpSetPrice.String())
	if err != nil {
		return nil, fmt.Errorf("read price feed positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[string]int64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan price feed position: %w", err)
		}
		source, seq, ok := event.ParsePriceKey(id)
		if ok && seq > positions[source] {
			positions[source] = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read price feed positions: %w", err)
	}
	return positions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
