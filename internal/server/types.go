package server

// Amounts and prices travel as base-10 strings so 128-bit values survive
// JSON clients that decode numbers as float64.

type AccountRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Account   string `json:"account"`
}

type AmountRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
}

type LiquidateRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
}

type SetPriceRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Price     string `json:"price"`
}

type GetVaultRequest struct {
	Account string `json:"account"`
}

type GetPriceRequest struct{}

type ListOperationsRequest struct {
	Account string `json:"account"`
	After   int64  `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type VerifyIntegrityRequest struct{}

// OperationResponse reports a sequenced operation. OK is false for expected
// failures such as an unhealthy borrow, which are still journaled.
type OperationResponse struct {
	OK        bool   `json:"ok"`
	Sequence  int64  `json:"sequence"`
	Replayed  bool   `json:"replayed,omitempty"`
	StateHash string `json:"state_hash,omitempty"`
}

type VaultResponse struct {
	Account    string `json:"account"`
	Found      bool   `json:"found"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Price      string `json:"price"`
	Health     string `json:"health"`
	// Ratio is collateral value over debt in percent, absent without debt.
	Ratio string `json:"collateral_ratio,omitempty"`
}

type PriceResponse struct {
	Price    string `json:"price"`
	Sequence int64  `json:"sequence"`
}
