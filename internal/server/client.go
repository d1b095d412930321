package server

import (
	"context"

	"VaultLedger/internal/query"

	"google.golang.org/grpc"
)

// Client calls VaultService over a gRPC connection using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, FullMethod(method), in, out, opts...)
}

func (c *Client) Init(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Init", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, in *AmountRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Deposit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Withdraw(ctx context.Context, in *AmountRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Withdraw", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Borrow(ctx context.Context, in *AmountRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Borrow", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Repay(ctx context.Context, in *AmountRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Repay", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Liquidate(ctx context.Context, in *LiquidateRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "Liquidate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetVault(ctx context.Context, in *GetVaultRequest, opts ...grpc.CallOption) (*VaultResponse, error) {
	out := new(VaultResponse)
	if err := c.invoke(ctx, "GetVault", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetPrice(ctx context.Context, in *SetPriceRequest, opts ...grpc.CallOption) (*OperationResponse, error) {
	out := new(OperationResponse)
	if err := c.invoke(ctx, "SetPrice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, opts ...grpc.CallOption) (*PriceResponse, error) {
	out := new(PriceResponse)
	if err := c.invoke(ctx, "GetPrice", &GetPriceRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListOperations(ctx context.Context, in *ListOperationsRequest, opts ...grpc.CallOption) (*query.OperationPage, error) {
	out := new(query.OperationPage)
	if err := c.invoke(ctx, "ListOperations", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	if err := c.invoke(ctx, "VerifyIntegrity", &VerifyIntegrityRequest{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
