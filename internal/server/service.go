package server

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/query"
	"VaultLedger/internal/vault"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ledger is the processor surface the service drives. *core.Processor
// implements it.
type Ledger interface {
	Execute(ctx context.Context, cmd event.Command) (core.Result, error)
	View(ctx context.Context, account vault.Account) (core.VaultView, error)
	Price(ctx context.Context) (*big.Int, error)
	Sequence() int64
}

// History serves the journal read model. *query.HistoryService implements it.
type History interface {
	ListOperations(ctx context.Context, account string, after int64, limit int) (*query.OperationPage, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// VaultService implements vaultledger.v1.VaultService.
type VaultService struct {
	ledger  Ledger
	history History
	logger  zerolog.Logger
}

// NewVaultService wires the service. history may be nil when no journal is
// configured, in which case the history methods return Unavailable.
func NewVaultService(ledger Ledger, history History, logger zerolog.Logger) *VaultService {
	return &VaultService{ledger: ledger, history: history, logger: logger}
}

func (s *VaultService) Init(ctx context.Context, req *AccountRequest) (*OperationResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	return s.execute(ctx, event.Command{
		RequestID: req.RequestID,
		Op:        event.OpInit,
		Account:   strings.TrimSpace(req.Account),
	})
}

func (s *VaultService) Deposit(ctx context.Context, req *AmountRequest) (*OperationResponse, error) {
	return s.amountOp(ctx, event.OpDeposit, req)
}

func (s *VaultService) Withdraw(ctx context.Context, req *AmountRequest) (*OperationResponse, error) {
	return s.amountOp(ctx, event.OpWithdraw, req)
}

func (s *VaultService) Borrow(ctx context.Context, req *AmountRequest) (*OperationResponse, error) {
	return s.amountOp(ctx, event.OpBorrow, req)
}

func (s *VaultService) Repay(ctx context.Context, req *AmountRequest) (*OperationResponse, error) {
	return s.amountOp(ctx, event.OpRepay, req)
}

func (s *VaultService) Liquidate(ctx context.Context, req *LiquidateRequest) (*OperationResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	borrower := strings.TrimSpace(req.Borrower)
	if borrower == "" {
		return nil, status.Error(codes.InvalidArgument, "borrower required")
	}
	return s.execute(ctx, event.Command{
		RequestID:    req.RequestID,
		Op:           event.OpLiquidate,
		Account:      strings.TrimSpace(req.Liquidator),
		Counterparty: borrower,
	})
}

func (s *VaultService) SetPrice(ctx context.Context, req *SetPriceRequest) (*OperationResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid price")
	}
	return s.execute(ctx, event.Command{
		RequestID: req.RequestID,
		Op:        event.OpSetPrice,
		Amount:    price,
	})
}

func (s *VaultService) GetVault(ctx context.Context, req *GetVaultRequest) (*VaultResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	view, err := s.ledger.View(ctx, vault.Account(strings.TrimSpace(req.Account)))
	if err != nil {
		return nil, s.translate("get_vault", err)
	}
	resp := &VaultResponse{
		Account:    string(view.Account),
		Found:      view.Found,
		Collateral: view.Vault.Collateral.String(),
		Debt:       view.Vault.Debt.String(),
		Price:      view.Price.String(),
		Health:     view.Health.String(),
	}
	if view.HasRatio {
		resp.Ratio = view.Ratio.StringFixed(2)
	}
	return resp, nil
}

func (s *VaultService) GetPrice(ctx context.Context, _ *GetPriceRequest) (*PriceResponse, error) {
	price, err := s.ledger.Price(ctx)
	if err != nil {
		return nil, s.translate("get_price", err)
	}
	return &PriceResponse{Price: price.String(), Sequence: s.ledger.Sequence()}, nil
}

func (s *VaultService) ListOperations(ctx context.Context, req *ListOperationsRequest) (*query.OperationPage, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "operation journal not configured")
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	account := vault.Account(strings.TrimSpace(req.Account))
	if err := account.Validate(); err != nil {
		return nil, toStatus(err)
	}
	if req.After < 0 || req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "after and limit must be non-negative")
	}
	page, err := s.history.ListOperations(ctx, string(account), req.After, req.Limit)
	if err != nil {
		return nil, s.translate("list_operations", err)
	}
	return page, nil
}

func (s *VaultService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "operation journal not configured")
	}
	report, err := s.history.VerifyIntegrity(ctx)
	if err != nil {
		return nil, s.translate("verify_integrity", err)
	}
	return report, nil
}

func (s *VaultService) amountOp(ctx context.Context, op event.OpType, req *AmountRequest) (*OperationResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid amount")
	}
	return s.execute(ctx, event.Command{
		RequestID: req.RequestID,
		Op:        op,
		Account:   strings.TrimSpace(req.Account),
		Amount:    amount,
	})
}

func (s *VaultService) execute(ctx context.Context, cmd event.Command) (*OperationResponse, error) {
	result, err := s.ledger.Execute(ctx, cmd)
	if err != nil {
		return nil, s.translate(cmd.Op.String(), err)
	}
	resp := &OperationResponse{
		OK:       result.OK,
		Sequence: result.Sequence,
		Replayed: result.Replayed,
	}
	if result.Envelope != nil {
		resp.StateHash = hex.EncodeToString(result.Envelope.StateHash[:])
	}
	return resp, nil
}

func (s *VaultService) translate(method string, err error) error {
	st := toStatus(err)
	if code := status.Code(st); code == codes.Internal || code == codes.DataLoss {
		s.logger.Error().Err(err).Str("method", method).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Str("method", method).Msg("request rejected")
	}
	return st
}

// parseAmount decodes a base-10 amount. Sign is checked by the ledger so a
// negative amount surfaces as the ledger's own error.
func parseAmount(s string) (*big.Int, error) {
	return vmath.Parse(strings.TrimSpace(s))
}
