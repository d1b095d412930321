package server_test

import (
	"context"
	"net"
	"testing"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/core"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/oracle"
	"VaultLedger/internal/server"
	"VaultLedger/internal/storage"
	"VaultLedger/internal/vault"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// --- Test helpers ---

var testTokens = map[string]string{
	"tok-alice": "alice",
	"tok-bob":   "bob",
	"tok-admin": "admin",
}

type serverRig struct {
	srv     *server.GRPCServer
	proc    *core.Processor
	metrics *observability.Metrics
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()
	store := storage.NewMemory()
	authz := auth.NewContextAuthorizer([]string{"admin"})
	prices := oracle.NewSlot(store, authz, zerolog.Nop())
	ledger := vault.NewLedger(store, prices, authz, zerolog.Nop())
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	proc := core.NewProcessor(ledger, prices, core.Options{Metrics: metrics, Logger: zerolog.Nop()})

	srv, err := server.NewGRPCServer("", "", server.ServerDeps{
		Service:  server.NewVaultService(proc, nil, zerolog.Nop()),
		Tokens:   auth.NewTokenAuthenticator(testTokens),
		Metrics:  metrics,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &serverRig{srv: srv, proc: proc, metrics: metrics}
}

// dial serves the rig on an in-memory listener and returns a connected client.
func (r *serverRig) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = r.srv.Server().Serve(lis) }()
	t.Cleanup(r.srv.Server().Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func as(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := status.Code(err); got != code {
		t.Fatalf("got %s (%v), want %s", got, err, code)
	}
}

// ==========================================================================
// Operations over gRPC
// ==========================================================================

func TestGRPC_BorrowLifecycle(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))
	alice := as("tok-alice")

	if _, err := c.Init(alice, &server.AccountRequest{Account: "alice"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: "300"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	resp, err := c.Borrow(alice, &server.AmountRequest{Account: "alice", Amount: "200"})
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if !resp.OK || resp.Sequence != 3 || resp.StateHash == "" {
		t.Errorf("borrow response: %+v", resp)
	}

	// One more unit would drop below 150%.
	resp, err = c.Borrow(alice, &server.AmountRequest{Account: "alice", Amount: "1"})
	if err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	if resp.OK {
		t.Error("under-collateralized borrow accepted")
	}

	v, err := c.GetVault(context.Background(), &server.GetVaultRequest{Account: "alice"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Collateral != "300" || v.Debt != "200" || v.Ratio != "150.00" || v.Health != vault.HealthHealthy.String() {
		t.Errorf("vault: %+v", v)
	}

	if v := promtest.ToFloat64(r.metrics.Requests.WithLabelValues("grpc", "Borrow", "OK")); v != 2 {
		t.Errorf("borrow request counter: got %v, want 2", v)
	}
}

func TestGRPC_RequestIDReplay(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))
	alice := as("tok-alice")

	if _, err := c.Init(alice, &server.AccountRequest{Account: "alice"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	req := &server.AmountRequest{RequestID: "dep-1", Account: "alice", Amount: "50"}
	first, err := c.Deposit(alice, req)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	second, err := c.Deposit(alice, req)
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if !second.Replayed || second.Sequence != first.Sequence {
		t.Errorf("replay: first=%+v second=%+v", first, second)
	}

	v, _ := c.GetVault(alice, &server.GetVaultRequest{Account: "alice"})
	if v.Collateral != "50" {
		t.Errorf("collateral after replay: got %s, want 50", v.Collateral)
	}

	_, err = c.Withdraw(alice, &server.AmountRequest{RequestID: "dep-1", Account: "alice", Amount: "1"})
	wantCode(t, err, codes.AlreadyExists)
}

func TestGRPC_Liquidate(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))
	alice, bob, admin := as("tok-alice"), as("tok-bob"), as("tok-admin")

	for _, step := range []func() error{
		func() error { _, err := c.Init(alice, &server.AccountRequest{Account: "alice"}); return err },
		func() error { _, err := c.Init(bob, &server.AccountRequest{Account: "bob"}); return err },
		func() error {
			_, err := c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: "150"})
			return err
		},
		func() error {
			_, err := c.Borrow(alice, &server.AmountRequest{Account: "alice", Amount: "100"})
			return err
		},
	} {
		if err := step(); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	resp, err := c.Liquidate(bob, &server.LiquidateRequest{Liquidator: "bob", Borrower: "alice"})
	if err != nil || resp.OK {
		t.Fatalf("healthy liquidation: resp=%+v err=%v", resp, err)
	}

	if _, err := c.SetPrice(admin, &server.SetPriceRequest{Price: "0"}); err != nil {
		t.Fatalf("set price: %v", err)
	}
	resp, err = c.Liquidate(bob, &server.LiquidateRequest{Liquidator: "bob", Borrower: "alice"})
	if err != nil || !resp.OK {
		t.Fatalf("liquidation: resp=%+v err=%v", resp, err)
	}

	v, _ := c.GetVault(context.Background(), &server.GetVaultRequest{Account: "bob"})
	if v.Collateral != "150" || v.Debt != "0" {
		t.Errorf("liquidator vault: %+v", v)
	}
}

// ==========================================================================
// Authentication and error mapping
// ==========================================================================

func TestGRPC_MutationsRequireToken(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))

	_, err := c.Init(context.Background(), &server.AccountRequest{Account: "alice"})
	wantCode(t, err, codes.Unauthenticated)

	_, err = c.Init(as("forged"), &server.AccountRequest{Account: "alice"})
	wantCode(t, err, codes.Unauthenticated)

	// Reads are open.
	if _, err := c.GetPrice(context.Background()); err != nil {
		t.Fatalf("get price: %v", err)
	}
}

func TestGRPC_WrongPrincipal(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))

	_, err := c.Init(as("tok-bob"), &server.AccountRequest{Account: "alice"})
	wantCode(t, err, codes.PermissionDenied)

	_, err = c.SetPrice(as("tok-alice"), &server.SetPriceRequest{Price: "5"})
	wantCode(t, err, codes.PermissionDenied)
}

func TestGRPC_ErrorMapping(t *testing.T) {
	r := newServerRig(t)
	c := server.NewClient(r.dial(t))
	alice := as("tok-alice")

	if _, err := c.Init(alice, &server.AccountRequest{Account: "alice"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := c.Init(alice, &server.AccountRequest{Account: "alice"})
	wantCode(t, err, codes.AlreadyExists)

	_, err = c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: "-1"})
	wantCode(t, err, codes.InvalidArgument)

	_, err = c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: "ten"})
	wantCode(t, err, codes.InvalidArgument)

	_, err = c.Liquidate(alice, &server.LiquidateRequest{Liquidator: "alice"})
	wantCode(t, err, codes.InvalidArgument)

	maxAmount := "170141183460469231731687303715884105727"
	if _, err := c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: maxAmount}); err != nil {
		t.Fatalf("max deposit: %v", err)
	}
	_, err = c.Deposit(alice, &server.AmountRequest{Account: "alice", Amount: "1"})
	wantCode(t, err, codes.OutOfRange)

	_, err = c.ListOperations(context.Background(), &server.ListOperationsRequest{Account: "alice"})
	wantCode(t, err, codes.Unavailable)
}

func TestGRPC_HealthService(t *testing.T) {
	r := newServerRig(t)
	hc := healthpb.NewHealthClient(r.dial(t))

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before ready: got %s", resp.GetStatus())
	}

	r.srv.SetServing(true)
	resp, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after ready: got %s", resp.GetStatus())
	}
}
