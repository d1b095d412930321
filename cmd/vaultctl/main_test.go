package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"VaultLedger/internal/server"
)

// --- Test helpers ---

type cli struct {
	t    *testing.T
	path string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("VAULT_CONFIG", "")
	t.Setenv("VAULT_PRINCIPAL", "")
	t.Setenv("VAULT_ADMINS", "")
	return &cli{t: t, path: filepath.Join(t.TempDir(), "vaults.db")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--store", "bolt", "--path", c.path}, args...)
	err := execute(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) op(args ...string) server.OperationResponse {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("%v: %v", args, err)
	}
	var resp server.OperationResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		c.t.Fatalf("%v: decode %q: %v", args, out, err)
	}
	return resp
}

func (c *cli) vault(account string) server.VaultResponse {
	c.t.Helper()
	out, err := c.run("get", account)
	if err != nil {
		c.t.Fatalf("get %s: %v", account, err)
	}
	var resp server.VaultResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		c.t.Fatalf("get %s: decode %q: %v", account, out, err)
	}
	return resp
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestVaultctl_StatePersistsAcrossInvocations(t *testing.T) {
	c := newCLI(t)

	if r := c.op("--as", "alice", "init"); !r.OK {
		t.Fatalf("init: %+v", r)
	}
	if r := c.op("--as", "alice", "deposit", "150"); !r.OK {
		t.Fatalf("deposit: %+v", r)
	}
	if r := c.op("--as", "alice", "borrow", "100"); !r.OK {
		t.Fatalf("borrow at exactly 150%%: %+v", r)
	}
	if r := c.op("--as", "alice", "borrow", "1"); r.OK {
		t.Fatalf("borrow past the gate succeeded: %+v", r)
	}

	v := c.vault("alice")
	if !v.Found || v.Collateral != "150" || v.Debt != "100" || v.Ratio != "150.00" {
		t.Errorf("vault: %+v", v)
	}
}

func TestVaultctl_ReinitFails(t *testing.T) {
	c := newCLI(t)
	c.op("--as", "alice", "init")

	_, err := c.run("--as", "alice", "init")
	if err == nil || !strings.HasPrefix(err.Error(), "AlreadyExists") {
		t.Fatalf("got %v, want AlreadyExists", err)
	}
}

func TestVaultctl_GetUnknownAccountIsZero(t *testing.T) {
	c := newCLI(t)
	v := c.vault("nobody")
	if v.Found || v.Collateral != "0" || v.Debt != "0" {
		t.Errorf("vault: %+v", v)
	}
}

// ============================================================================
// Price and liquidation
// ============================================================================

func TestVaultctl_PriceDropEnablesLiquidation(t *testing.T) {
	c := newCLI(t)
	c.op("--as", "alice", "deposit", "150")
	c.op("--as", "alice", "borrow", "100")

	if _, err := c.run("--as", "alice", "price", "set", "0"); err == nil ||
		!strings.HasPrefix(err.Error(), "PermissionDenied") {
		t.Fatalf("non-admin price set: got %v", err)
	}
	if r := c.op("--as", "keeper", "liquidate", "alice"); r.OK {
		t.Fatal("healthy vault liquidated")
	}

	if r := c.op("--as", "ops", "--admin", "price", "set", "0"); !r.OK {
		t.Fatalf("admin price set: %+v", r)
	}
	if r := c.op("--as", "keeper", "liquidate", "alice"); !r.OK {
		t.Fatal("liquidation after price drop failed")
	}

	if v := c.vault("alice"); v.Collateral != "0" || v.Debt != "0" {
		t.Errorf("borrower after liquidation: %+v", v)
	}
	if v := c.vault("keeper"); v.Collateral != "150" || v.Debt != "0" {
		t.Errorf("liquidator after liquidation: %+v", v)
	}
}

// ============================================================================
// Input errors
// ============================================================================

func TestVaultctl_Errors(t *testing.T) {
	c := newCLI(t)

	if _, err := c.run("deposit", "5"); err == nil || !strings.Contains(err.Error(), "no principal") {
		t.Errorf("missing principal: got %v", err)
	}
	if _, err := c.run("--as", "alice", "deposit", "--", "-5"); err == nil ||
		!strings.HasPrefix(err.Error(), "InvalidArgument") {
		t.Errorf("negative amount: got %v", err)
	}
	if _, err := c.run("--as", "alice", "deposit", "340282366920938463463374607431768211456"); err == nil {
		t.Error("amount past i128 accepted")
	}
}
