package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plenumhq/plenum/internal/routing"
	"github.com/plenumhq/plenum/pkg/authz"
)

// principal is the authenticated caller of one request. UserID 0 is the
// anonymous user.
type principal struct {
	UserID int
	Role   string
}

type principalContextKey struct{}

func withPrincipal(ctx context.Context, p principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func currentPrincipal(ctx context.Context) (principal, bool) {
	v := ctx.Value(principalContextKey{})
	if v == nil {
		return principal{}, false
	}
	p, ok := v.(principal)
	return p, ok
}

// withAuthn resolves the caller from the Authorization header. A bearer
// token carrying a user_id claim yields a user principal; the internal
// password yields a service principal; no header yields anonymous.
func withAuthn(secret []byte, internalPassword string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))

		if header == "" {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal{Role: authz.RoleAnonymous})))
			return
		}

		if internalPassword != "" {
			if pw, ok := strings.CutPrefix(header, "Internal "); ok {
				if subtle.ConstantTimeCompare([]byte(pw), []byte(internalPassword)) != 1 {
					routing.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "invalid internal password")
					return
				}
				userID := userIDFromHeader(r)
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal{UserID: userID, Role: authz.RoleService})))
				return
			}
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			routing.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "unsupported authorization scheme")
			return
		}

		userID, err := userIDFromToken(token, secret)
		if err != nil {
			routing.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "invalid access token")
			return
		}

		p := principal{UserID: userID, Role: authz.RoleUser}
		if userID == 0 {
			p.Role = authz.RoleAnonymous
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

func userIDFromToken(raw string, secret []byte) (int, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, err
	}
	v, ok := claims["user_id"]
	if !ok {
		return 0, jwt.ErrTokenInvalidClaims
	}
	id, ok := v.(float64)
	if !ok || id < 0 || id != float64(int(id)) {
		return 0, jwt.ErrTokenInvalidClaims
	}
	return int(id), nil
}

// userIDFromHeader lets internal callers impersonate the user whose
// request they relay.
func userIDFromHeader(r *http.Request) int {
	raw := strings.TrimSpace(r.Header.Get("X-Forwarded-User"))
	if raw == "" {
		return 0
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
