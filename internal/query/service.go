package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"VaultLedger/internal/event"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// HistoryService provides read-only access to the operation journal in
// ledger.operations. Responses carry as_of_sequence, the highest journaled
// sequence when the query ran.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// ListOperations returns operations where account acted or was the
// counterparty, in sequence order after the given cursor.
func (qs *HistoryService) ListOperations(ctx context.Context, account string, after int64, limit int) (*OperationPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	// Fetch one extra row to know whether another page exists.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, operation_id, COALESCE(request_id, ''), op_type, account,
		       COALESCE(counterparty, ''), COALESCE(amount::TEXT, ''), COALESCE(price::TEXT, ''),
		       ok, state_hash, created_at
		FROM ledger.operations
		WHERE (account = $1 OR counterparty = $1) AND sequence > $2
		ORDER BY sequence
		LIMIT $3
	`, account, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	page := &OperationPage{Operations: make([]OperationRecord, 0, limit), AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			rec  OperationRecord
			hash []byte
		)
		if err := rows.Scan(
			&rec.Sequence, &rec.OperationID, &rec.RequestID, &rec.Op, &rec.Account,
			&rec.Counterparty, &rec.Amount, &rec.Price, &rec.OK, &hash, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.StateHash = hex.EncodeToString(hash)
		page.Operations = append(page.Operations, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Operations) > limit {
		page.Operations = page.Operations[:limit]
		page.NextAfter = page.Operations[limit-1].Sequence
	}
	return page, nil
}

// VerifyIntegrity replays the whole journal through a ChainVerifier.
func (qs *HistoryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, op_type, payload, state_hash, prev_hash
		FROM ledger.operations
		ORDER BY sequence
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	verifier := NewChainVerifier()
	for rows.Next() {
		var (
			seq                 int64
			opType              string
			payload             []byte
			stateHash, prevHash []byte
		)
		if err := rows.Scan(&seq, &opType, &payload, &stateHash, &prevHash); err != nil {
			return nil, err
		}

		var env event.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("decode operation %d: %w", seq, err)
		}
		if env.Op, err = event.ParseOpType(opType); err != nil {
			return nil, fmt.Errorf("operation %d: %w", seq, err)
		}
		env.Sequence = seq
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)

		verifier.Check(env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return verifier.Report(), nil
}

func (qs *HistoryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM ledger.operations
	`).Scan(&seq)
	return seq, err
}
