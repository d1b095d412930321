package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenAuthenticator maps bearer tokens to the principal they prove.
type TokenAuthenticator struct {
	principals map[string]string
}

// NewTokenAuthenticator builds an authenticator from token → principal pairs.
// Blank tokens or principals are ignored.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	principals := make(map[string]string, len(tokens))
	for token, principal := range tokens {
		token = strings.TrimSpace(token)
		principal = strings.TrimSpace(principal)
		if token == "" || principal == "" {
			continue
		}
		principals[token] = principal
	}
	return &TokenAuthenticator{principals: principals}
}

// Lookup resolves a raw token.
func (a *TokenAuthenticator) Lookup(token string) (string, bool) {
	if a == nil {
		return "", false
	}
	p, ok := a.principals[strings.TrimSpace(token)]
	return p, ok
}

// FromMetadata resolves the principal from `authorization: Bearer <t>` or
// `x-api-token: <t>` gRPC metadata.
func (a *TokenAuthenticator) FromMetadata(md metadata.MD) (string, bool) {
	for _, header := range md.Get("authorization") {
		if token := parseBearerToken(header); token != "" {
			if p, ok := a.Lookup(token); ok {
				return p, true
			}
		}
	}
	for _, token := range md.Get("x-api-token") {
		if p, ok := a.Lookup(token); ok {
			return p, true
		}
	}
	return "", false
}

// FromRequest resolves the principal from the equivalent HTTP headers.
func (a *TokenAuthenticator) FromRequest(r *http.Request) (string, bool) {
	if token := parseBearerToken(r.Header.Get("Authorization")); token != "" {
		if p, ok := a.Lookup(token); ok {
			return p, true
		}
	}
	if token := r.Header.Get("X-Api-Token"); token != "" {
		return a.Lookup(token)
	}
	return "", false
}

// UnaryInterceptor attaches the caller principal to the handler context.
// Methods for which protected returns true are rejected with Unauthenticated
// when no valid token is presented.
func (a *TokenAuthenticator) UnaryInterceptor(protected func(fullMethod string) bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if p, ok := a.FromMetadata(md); ok {
			return handler(WithPrincipal(ctx, p), req)
		}
		if protected != nil && protected(info.FullMethod) {
			return nil, status.Error(codes.Unauthenticated, ErrUnauthenticated.Error())
		}
		return handler(ctx, req)
	}
}

// Middleware is the HTTP counterpart of UnaryInterceptor. Protected requests
// without a valid token get 401.
func (a *TokenAuthenticator) Middleware(protected func(r *http.Request) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := a.FromRequest(r); ok {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}
		if protected != nil && protected(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
