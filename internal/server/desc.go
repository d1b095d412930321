package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vaultledger.v1.VaultService"

// FullMethod returns "/vaultledger.v1.VaultService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// VaultServiceDesc describes the service for grpc.Server.RegisterService.
// Messages are plain Go structs carried by the JSON codec.
var VaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*vaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: initHandler},
		{MethodName: "Deposit", Handler: depositHandler},
		{MethodName: "Withdraw", Handler: withdrawHandler},
		{MethodName: "Borrow", Handler: borrowHandler},
		{MethodName: "Repay", Handler: repayHandler},
		{MethodName: "Liquidate", Handler: liquidateHandler},
		{MethodName: "GetVault", Handler: getVaultHandler},
		{MethodName: "SetPrice", Handler: setPriceHandler},
		{MethodName: "GetPrice", Handler: getPriceHandler},
		{MethodName: "ListOperations", Handler: listOperationsHandler},
		{MethodName: "VerifyIntegrity", Handler: verifyIntegrityHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// vaultServiceServer is the handler type checked by RegisterService.
type vaultServiceServer interface {
	Init(context.Context, *AccountRequest) (*OperationResponse, error)
}

// RegisterVaultService registers svc on s.
func RegisterVaultService(s grpc.ServiceRegistrar, svc *VaultService) {
	s.RegisterService(&VaultServiceDesc, svc)
}

func initHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AccountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Init(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Init")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Init(ctx, req.(*AccountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func depositHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AmountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Deposit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Deposit")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Deposit(ctx, req.(*AmountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func withdrawHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AmountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Withdraw(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Withdraw")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Withdraw(ctx, req.(*AmountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func borrowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AmountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Borrow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Borrow")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Borrow(ctx, req.(*AmountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func repayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AmountRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Repay(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Repay")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Repay(ctx, req.(*AmountRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func liquidateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LiquidateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).Liquidate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Liquidate")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).Liquidate(ctx, req.(*LiquidateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getVaultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetVaultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).GetVault(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("GetVault")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).GetVault(ctx, req.(*GetVaultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setPriceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetPriceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).SetPrice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("SetPrice")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).SetPrice(ctx, req.(*SetPriceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getPriceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetPriceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).GetPrice(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("GetPrice")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).GetPrice(ctx, req.(*GetPriceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listOperationsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListOperationsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).ListOperations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("ListOperations")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).ListOperations(ctx, req.(*ListOperationsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func verifyIntegrityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(VerifyIntegrityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*VaultService).VerifyIntegrity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("VerifyIntegrity")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*VaultService).VerifyIntegrity(ctx, req.(*VerifyIntegrityRequest))
	}
	return interceptor(ctx, in, info, handler)
}
