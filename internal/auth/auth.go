package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"VaultLedger/internal/vault"
)

var (
	ErrNoPrincipal     = errors.New("auth: no authenticated principal")
	ErrWrongPrincipal  = errors.New("auth: principal does not control account")
	ErrNotAdmin        = errors.New("auth: principal is not an administrator")
	ErrUnauthenticated = errors.New("auth: authentication required")
)

type principalKey struct{}

// WithPrincipal returns a context carrying the proven caller identity.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the caller identity attached by an authenticator.
func PrincipalFrom(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// ContextAuthorizer grants an account operation only when the context
// principal is that account, and a price override only when the principal is
// one of the configured administrators.
type ContextAuthorizer struct {
	admins map[string]struct{}
}

func NewContextAuthorizer(admins []string) *ContextAuthorizer {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return &ContextAuthorizer{admins: set}
}

func (a *ContextAuthorizer) Authorize(ctx context.Context, account vault.Account) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrNoPrincipal
	}
	if p != string(account) {
		return fmt.Errorf("%w: %q acting for %q", ErrWrongPrincipal, p, string(account))
	}
	return nil
}

func (a *ContextAuthorizer) AuthorizeAdmin(ctx context.Context) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrNoPrincipal
	}
	if _, admin := a.admins[p]; !admin {
		return fmt.Errorf("%w: %q", ErrNotAdmin, p)
	}
	return nil
}

// IsAdmin reports whether principal is configured as an administrator.
func (a *ContextAuthorizer) IsAdmin(principal string) bool {
	_, ok := a.admins[principal]
	return ok
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, vault.Account) error { return nil }
func (allowAll) AuthorizeAdmin(context.Context) error           { return nil }

// AllowAll accepts every caller. It is meant for tests and single-operator
// tools where identity is established out of band.
var AllowAll = allowAll{}
