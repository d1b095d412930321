package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VaultLedger/internal/server"
)

type httpClient struct {
	t   *testing.T
	url string
}

func newHTTPClient(t *testing.T, r *serverRig) *httpClient {
	t.Helper()
	ts := httptest.NewServer(r.srv.Handler())
	t.Cleanup(ts.Close)
	return &httpClient{t: t, url: ts.URL}
}

// do sends a request and decodes the JSON response into out when non-nil.
func (c *httpClient) do(method, path, token, body string, headers map[string]string, out any) int {
	c.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.url+path, rdr)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestGateway_Lifecycle(t *testing.T) {
	c := newHTTPClient(t, newServerRig(t))

	if code := c.do("POST", "/v1/vaults/alice:init", "tok-alice", "", nil, nil); code != http.StatusOK {
		t.Fatalf("init: status %d", code)
	}

	var op server.OperationResponse
	if code := c.do("POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":"300"}`, nil, &op); code != http.StatusOK || !op.OK {
		t.Fatalf("deposit: status %d resp %+v", code, op)
	}
	if code := c.do("POST", "/v1/vaults/alice:borrow", "tok-alice", `{"amount":"201"}`, nil, &op); code != http.StatusOK || op.OK {
		t.Fatalf("unhealthy borrow: status %d resp %+v", code, op)
	}
	if code := c.do("POST", "/v1/vaults/alice:borrow", "tok-alice", `{"amount":"200"}`, nil, &op); code != http.StatusOK || !op.OK {
		t.Fatalf("borrow: status %d resp %+v", code, op)
	}
	if code := c.do("POST", "/v1/vaults/alice:repay", "tok-alice", `{"amount":"500"}`, nil, &op); code != http.StatusOK || !op.OK {
		t.Fatalf("repay: status %d resp %+v", code, op)
	}
	if code := c.do("POST", "/v1/vaults/alice:withdraw", "tok-alice", `{"amount":"300"}`, nil, &op); code != http.StatusOK || !op.OK {
		t.Fatalf("withdraw: status %d resp %+v", code, op)
	}

	var v server.VaultResponse
	if code := c.do("GET", "/v1/vaults/alice", "", "", nil, &v); code != http.StatusOK {
		t.Fatalf("get: status %d", code)
	}
	if !v.Found || v.Collateral != "0" || v.Debt != "0" || v.Ratio != "" || v.Health != "no_debt" {
		t.Errorf("vault: %+v", v)
	}
}

func TestGateway_LiquidatorDefaultsToCaller(t *testing.T) {
	c := newHTTPClient(t, newServerRig(t))

	c.do("POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":"150"}`, nil, nil)
	c.do("POST", "/v1/vaults/alice:borrow", "tok-alice", `{"amount":"100"}`, nil, nil)
	if code := c.do("PUT", "/v1/price", "tok-admin", `{"price":"0"}`, nil, nil); code != http.StatusOK {
		t.Fatalf("set price: status %d", code)
	}

	var op server.OperationResponse
	if code := c.do("POST", "/v1/vaults/alice:liquidate", "tok-bob", "", nil, &op); code != http.StatusOK || !op.OK {
		t.Fatalf("liquidate: status %d resp %+v", code, op)
	}

	var v server.VaultResponse
	c.do("GET", "/v1/vaults/bob", "", "", nil, &v)
	if v.Collateral != "150" {
		t.Errorf("bob collateral: got %s, want 150", v.Collateral)
	}

	var price server.PriceResponse
	c.do("GET", "/v1/price", "", "", nil, &price)
	if price.Price != "0" {
		t.Errorf("price: got %s", price.Price)
	}
}

func TestGateway_IdempotencyHeader(t *testing.T) {
	c := newHTTPClient(t, newServerRig(t))
	headers := map[string]string{server.IdempotencyHeader: "req-42"}

	var first, second server.OperationResponse
	c.do("POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":"10"}`, headers, &first)
	c.do("POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":"10"}`, headers, &second)
	if !second.Replayed || second.Sequence != first.Sequence {
		t.Errorf("replay: first=%+v second=%+v", first, second)
	}

	var v server.VaultResponse
	c.do("GET", "/v1/vaults/alice", "", "", nil, &v)
	if v.Collateral != "10" {
		t.Errorf("collateral: got %s, want 10", v.Collateral)
	}
}

func TestGateway_Errors(t *testing.T) {
	c := newHTTPClient(t, newServerRig(t))

	cases := []struct {
		name, method, path, token, body string
		want                            int
	}{
		{"no token", "POST", "/v1/vaults/alice:init", "", "", http.StatusUnauthorized},
		{"wrong principal", "POST", "/v1/vaults/alice:init", "tok-bob", "", http.StatusForbidden},
		{"non-admin price", "PUT", "/v1/price", "tok-alice", `{"price":"9"}`, http.StatusForbidden},
		{"malformed body", "POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":`, http.StatusBadRequest},
		{"unknown field", "POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amt":"1"}`, http.StatusBadRequest},
		{"bad amount", "POST", "/v1/vaults/alice:deposit", "tok-alice", `{"amount":"1e3"}`, http.StatusBadRequest},
		{"bad limit", "GET", "/v1/vaults/alice/operations?limit=x", "", "", http.StatusBadRequest},
		{"no journal", "GET", "/v1/vaults/alice/operations", "", "", http.StatusServiceUnavailable},
		{"unknown route", "GET", "/v1/nothing", "", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.do(tc.method, tc.path, tc.token, tc.body, nil, nil); got != tc.want {
				t.Errorf("status: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	c := newHTTPClient(t, newServerRig(t))

	if code := c.do("GET", "/healthz", "", "", nil, nil); code != http.StatusOK {
		t.Errorf("healthz: status %d", code)
	}

	c.do("GET", "/v1/price", "", "", nil, nil)
	resp, err := http.Get(c.url + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `vault_api_requests_total{code="200",method="GetPrice",transport="http"} 1`) {
		t.Errorf("request metric missing from /metrics:\n%s", body)
	}
}
