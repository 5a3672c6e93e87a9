// ClarusRCM | 2026
// auth.go

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clarusrcm/platform-api/internal/core"
)

const principalKey contextKey = "principal"

// Principal is the authenticated identity extracted from a verified session.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   string
	OrgID  *uuid.UUID
}

// SessionVerifier checks a compact session token and returns the identity
// it carries. Any failure, expiry included, must surface as
// core.ErrSessionInvalid.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// Authenticator accepts the session either as a Bearer token or as the
// session cookie, preferring the header when both are present.
func Authenticator(
	verifier SessionVerifier,
	cookieName string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if cookie, err := r.Cookie(cookieName); err == nil {
					token = cookie.Value
				}
			}

			if token == "" {
				core.JSONError(w, core.SessionInvalidError("missing session"))
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				core.JSONError(
					w,
					core.SessionInvalidError("session expired or invalid"),
				)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if !ok {
			core.JSONError(w, core.SessionInvalidError("missing session"))
			return
		}

		if principal.Role != "admin" {
			core.Forbidden(w, "admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

func GetPrincipal(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey).(*Principal)
	return principal, ok
}

func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	principal, ok := GetPrincipal(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return principal.UserID, true
}

func GetOrgID(ctx context.Context) (uuid.UUID, bool) {
	principal, ok := GetPrincipal(ctx)
	if !ok || principal.OrgID == nil {
		return uuid.Nil, false
	}
	return *principal.OrgID, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}

	return strings.TrimSpace(header[len(prefix):])
}
