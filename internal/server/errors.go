package server

import (
	"errors"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/core"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/vault"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "authentication required")
	case errors.Is(err, vault.ErrUnauthorized), errors.Is(err, oracle.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, "unauthorized")
	case errors.Is(err, vault.ErrOverflow):
		return status.Error(codes.OutOfRange, "arithmetic overflow")
	case errors.Is(err, vault.ErrVaultExists):
		return status.Error(codes.AlreadyExists, "vault already exists")
	case errors.Is(err, core.ErrRequestIDReused):
		return status.Error(codes.AlreadyExists, "request id already used for a different operation")
	case errors.Is(err, vault.ErrInvalidAmount),
		errors.Is(err, core.ErrMissingAmount):
		return status.Error(codes.InvalidArgument, "invalid amount")
	case errors.Is(err, vault.ErrInvalidAccount),
		errors.Is(err, core.ErrMissingBorrower):
		return status.Error(codes.InvalidArgument, "invalid account")
	case errors.Is(err, oracle.ErrInvalidPrice):
		return status.Error(codes.InvalidArgument, "invalid price")
	case errors.Is(err, core.ErrUnknownOp):
		return status.Error(codes.Unimplemented, "unknown operation")
	case errors.Is(err, vault.ErrPriceUnavailable), errors.Is(err, vault.ErrStorage):
		return status.Error(codes.Unavailable, "ledger unavailable")
	case errors.Is(err, vault.ErrCorruptState):
		return status.Error(codes.DataLoss, "stored ledger is corrupt")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
