package event

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpType discriminates ledger operations in the journal and on the wire.
type OpType int32

const (
	OpUnknown OpType = iota
	OpInit
	OpDeposit
	OpWithdraw
	OpBorrow
	OpRepay
	OpLiquidate
	OpSetPrice
)

func (op OpType) String() string {
	switch op {
	case OpInit:
		return "init"
	case OpDeposit:
		return "deposit"
	case OpWithdraw:
		return "withdraw"
	case OpBorrow:
		return "borrow"
	case OpRepay:
		return "repay"
	case OpLiquidate:
		return "liquidate"
	case OpSetPrice:
		return "set_price"
	default:
		return "unknown"
	}
}

// ParseOpType is the inverse of String.
func ParseOpType(s string) (OpType, error) {
	for op := OpInit; op <= OpSetPrice; op++ {
		if op.String() == s {
			return op, nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operation %q", s)
}

// MutatesVaults reports whether the operation writes the vault mapping.
func (op OpType) MutatesVaults() bool {
	return op >= OpInit && op <= OpLiquidate
}

// Command is one request against the ledger.
type Command struct {
	// Optional caller-supplied dedup key. Empty disables replay detection.
	RequestID string

	Op      OpType
	Account string // acting account; the liquidator for OpLiquidate

	// Borrower for OpLiquidate.
	Counterparty string

	// Amount for deposit/withdraw/borrow/repay, the new price for OpSetPrice.
	Amount *big.Int
}

// IdempotencyKey returns the dedup key. Request IDs are global, so reusing
// one for a different operation is detected rather than silently replayed.
func (c Command) IdempotencyKey() string {
	return strings.TrimSpace(c.RequestID)
}

// Fingerprint identifies what the command does. Two commands sharing a
// request ID must have the same fingerprint to count as a retry.
func (c Command) Fingerprint() string {
	amount := ""
	if c.Amount != nil {
		amount = c.Amount.String()
	}
	return Fingerprint(c.Op, c.Account, c.Counterparty, amount)
}

// Fingerprint builds a command fingerprint from its journaled columns.
func Fingerprint(op OpType, account, counterparty, amount string) string {
	return strings.Join([]string{op.String(), account, counterparty, amount}, "\x1f")
}

// VaultState is the wire form of a vault balance pair.
type VaultState struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

// Envelope records one processed operation, including expected failures.
type Envelope struct {
	// Global monotonic sequence assigned by the processor
	Sequence int64 `json:"sequence"`

	OperationID uuid.UUID `json:"operation_id"`
	RequestID   string    `json:"request_id,omitempty"`

	Op           OpType `json:"-"`
	OpName       string `json:"op"`
	Account      string `json:"account"`
	Counterparty string `json:"counterparty,omitempty"`
	Amount       string `json:"amount,omitempty"`

	// Price in effect when the operation was evaluated
	Price string `json:"price,omitempty"`

	OK bool `json:"ok"`

	// Vaults touched by the operation, keyed by account
	Before map[string]VaultState `json:"before,omitempty"`
	After  map[string]VaultState `json:"after,omitempty"`

	// SHA-256 of (prev_hash, sequence, digest of this operation)
	StateHash [32]byte `json:"-"`
	PrevHash  [32]byte `json:"-"`

	StateHashHex string `json:"state_hash"`
	PrevHashHex  string `json:"prev_hash"`

	Timestamp time.Time `json:"timestamp"`
}
