package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"VaultLedger/internal/auth"
	"VaultLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IdempotencyHeader carries the request ID on the HTTP gateway. A request_id
// in the body takes precedence.
const IdempotencyHeader = "Idempotency-Key"

const maxBodyBytes = 64 << 10

// Gateway serves the HTTP/JSON surface by calling VaultService in process.
type Gateway struct {
	svc     *VaultService
	metrics *observability.Metrics
	mux     *runtime.ServeMux
}

func NewGateway(svc *VaultService, metrics *observability.Metrics) (*Gateway, error) {
	g := &Gateway{svc: svc, metrics: metrics, mux: runtime.NewServeMux()}

	routes := []struct {
		method, pattern, name string
		handler               runtime.HandlerFunc
	}{
		{"POST", "/v1/vaults/{account}:init", "Init", g.handleInit},
		{"POST", "/v1/vaults/{account}:deposit", "Deposit", g.amountHandler(svc.Deposit)},
		{"POST", "/v1/vaults/{account}:withdraw", "Withdraw", g.amountHandler(svc.Withdraw)},
		{"POST", "/v1/vaults/{account}:borrow", "Borrow", g.amountHandler(svc.Borrow)},
		{"POST", "/v1/vaults/{account}:repay", "Repay", g.amountHandler(svc.Repay)},
		{"POST", "/v1/vaults/{borrower}:liquidate", "Liquidate", g.handleLiquidate},
		{"GET", "/v1/vaults/{account}", "GetVault", g.handleGetVault},
		{"GET", "/v1/vaults/{account}/operations", "ListOperations", g.handleListOperations},
		{"GET", "/v1/price", "GetPrice", g.handleGetPrice},
		{"PUT", "/v1/price", "SetPrice", g.handleSetPrice},
		{"GET", "/v1/integrity", "VerifyIntegrity", g.handleVerifyIntegrity},
	}
	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, g.instrument(rt.name, rt.handler)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// isProtectedRequest reports routes that require an authenticated caller.
func isProtectedRequest(r *http.Request) bool {
	return r.Method != http.MethodGet
}

func (g *Gateway) handleInit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Account = params["account"]
	req.RequestID = requestID(r, req.RequestID)
	resp, err := g.svc.Init(r.Context(), &req)
	writeResult(w, resp, err)
}

type amountMethod func(ctx context.Context, req *AmountRequest) (*OperationResponse, error)

func (g *Gateway) amountHandler(call amountMethod) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		var req AmountRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Account = params["account"]
		req.RequestID = requestID(r, req.RequestID)
		resp, err := call(r.Context(), &req)
		writeResult(w, resp, err)
	}
}

func (g *Gateway) handleLiquidate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req LiquidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Borrower = params["borrower"]
	if req.Liquidator == "" {
		// The caller liquidates as itself unless it names another account.
		req.Liquidator, _ = auth.PrincipalFrom(r.Context())
	}
	req.RequestID = requestID(r, req.RequestID)
	resp, err := g.svc.Liquidate(r.Context(), &req)
	writeResult(w, resp, err)
}

func (g *Gateway) handleGetVault(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.svc.GetVault(r.Context(), &GetVaultRequest{Account: params["account"]})
	writeResult(w, resp, err)
}

func (g *Gateway) handleListOperations(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req := ListOperationsRequest{Account: params["account"]}
	q := r.URL.Query()
	var err error
	if v := q.Get("after"); v != "" {
		if req.After, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, status.Error(codes.InvalidArgument, "after must be an integer"))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, status.Error(codes.InvalidArgument, "limit must be an integer"))
			return
		}
	}
	resp, err := g.svc.ListOperations(r.Context(), &req)
	writeResult(w, resp, err)
}

func (g *Gateway) handleGetPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.GetPrice(r.Context(), &GetPriceRequest{})
	writeResult(w, resp, err)
}

func (g *Gateway) handleSetPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req SetPriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.RequestID = requestID(r, req.RequestID)
	resp, err := g.svc.SetPrice(r.Context(), &req)
	writeResult(w, resp, err)
}

func (g *Gateway) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.svc.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	writeResult(w, resp, err)
}

// instrument records request count and latency per route.
func (g *Gateway) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if g.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		g.metrics.Requests.WithLabelValues("http", name, strconv.Itoa(rec.status)).Inc()
		g.metrics.RequestDuration.WithLabelValues("http", name).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// --- Helpers ---

func requestID(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(IdempotencyHeader))
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, status.Error(codes.InvalidArgument, "malformed request body"))
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:  st.Code().String(),
		Error: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
