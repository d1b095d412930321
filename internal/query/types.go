package query

import "time"

// OperationRecord is one journaled operation as served by the history API.
type OperationRecord struct {
	Sequence     int64     `json:"sequence"`
	OperationID  string    `json:"operation_id"`
	RequestID    string    `json:"request_id,omitempty"`
	Op           string    `json:"op"`
	Account      string    `json:"account"`
	Counterparty string    `json:"counterparty,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Price        string    `json:"price,omitempty"`
	OK           bool      `json:"ok"`
	StateHash    string    `json:"state_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperationPage is a page of history. NextAfter is the cursor for the next
// page and is zero when the page is the last one.
type OperationPage struct {
	Operations   []OperationRecord `json:"operations"`
	NextAfter    int64             `json:"next_after,omitempty"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

// IntegrityReport is the result of replaying the journal hash chain.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	Checked         int64   `json:"checked"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
