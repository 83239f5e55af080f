// Package auth implements the Auth Hook contract (SPEC_FULL.md §4.8): a
// pluggable Authenticate/Authorize pair the Server Facade consults when
// a Hello arrives and whenever a Subscribe is requested. The bundled
// implementation verifies an HS256 JWT, grounded on the teacher's
// internal/auth/jwt.go Claims/JWTManager shape, trimmed to the
// verification-only subset a sync server needs (no token issuance
// endpoint here — that belongs to whatever system mints tokens for
// clients).
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context is the opaque identity/authorization data threaded through a
// Session after a successful Authenticate call.
type Context struct {
	Subject string
	Role    string
}

// Hook is the pluggable contract the Server Facade calls. Either method
// may be nil in practice by using NoopHook, which allows everything.
type Hook interface {
	Authenticate(ctx context.Context, token string) (Context, error)
	Authorize(ctx context.Context, authCtx Context, documentName string) error
}

// NoopHook allows every connection and every subscription, used when
// RequireAuth is false.
type NoopHook struct{}

func (NoopHook) Authenticate(ctx context.Context, token string) (Context, error) {
	return Context{}, nil
}

func (NoopHook) Authorize(ctx context.Context, authCtx Context, documentName string) error {
	return nil
}

// Claims is the JWT claim set docsyncd expects: subject plus an
// application-defined role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTHook verifies HS256-signed bearer tokens. Authorize is permissive
// by default (any authenticated subject may subscribe to any document);
// callers needing per-document ACLs should wrap JWTHook in their own
// Hook implementation.
type JWTHook struct {
	secret []byte
}

func NewJWTHook(secret string) *JWTHook {
	return &JWTHook{secret: []byte(secret)}
}

var ErrMissingToken = errors.New("auth: token missing")

func (h *JWTHook) Authenticate(ctx context.Context, token string) (Context, error) {
	if token == "" {
		return Context{}, ErrMissingToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.secret, nil
	})
	if err != nil {
		return Context{}, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Context{}, errors.New("invalid token claims")
	}
	return Context{Subject: claims.Subject, Role: claims.Role}, nil
}

func (h *JWTHook) Authorize(ctx context.Context, authCtx Context, documentName string) error {
	return nil
}

// GenerateToken issues an HS256 token carrying subject and role that
// expires after ttl, useful for test fixtures and local development
// token minting.
func (h *JWTHook) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// TokenFromRequest extracts a bearer token from the Authorization
// header, falling back to a "token" query parameter (common for
// WebSocket upgrade requests, which cannot set custom headers from a
// browser), matching the teacher's header-then-query fallback order.
func TokenFromRequest(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(authz, prefix) {
			return strings.TrimPrefix(authz, prefix)
		}
	}
	return r.URL.Query().Get("token")
}
