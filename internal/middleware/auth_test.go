// ClarusRCM | 2026
// auth_test.go

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarusrcm/platform-api/internal/core"
)

type fakeVerifier struct {
	tokens map[string]*Principal
}

func (v *fakeVerifier) Verify(
	_ context.Context,
	token string,
) (*Principal, error) {
	if p, ok := v.tokens[token]; ok {
		return p, nil
	}
	return nil, core.ErrSessionInvalid
}

func newVerifier(token string) (*fakeVerifier, *Principal) {
	orgID := uuid.New()
	principal := &Principal{
		UserID: uuid.New(),
		Email:  "ops@riverside.example",
		Role:   "admin",
		OrgID:  &orgID,
	}
	return &fakeVerifier{
		tokens: map[string]*Principal{token: principal},
	}, principal
}

func captorHandler(captured **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := GetPrincipal(r.Context()); ok {
			*captured = p
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorMissingToken(t *testing.T) {
	verifier, _ := newVerifier("tok_valid")
	var captured *Principal
	handler := Authenticator(verifier, "clarus_session")(
		captorHandler(&captured),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_INVALID")
	assert.Nil(t, captured)
}

func TestAuthenticatorRejectsBadToken(t *testing.T) {
	verifier, _ := newVerifier("tok_valid")
	var captured *Principal
	handler := Authenticator(verifier, "clarus_session")(
		captorHandler(&captured),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer tok_forged")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_INVALID")
	assert.Nil(t, captured)
}

func TestAuthenticatorBearerToken(t *testing.T) {
	verifier, principal := newVerifier("tok_valid")
	var captured *Principal
	handler := Authenticator(verifier, "clarus_session")(
		captorHandler(&captured),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer tok_valid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, principal.UserID, captured.UserID)
}

func TestAuthenticatorSessionCookie(t *testing.T) {
	verifier, principal := newVerifier("tok_valid")
	var captured *Principal
	handler := Authenticator(verifier, "clarus_session")(
		captorHandler(&captured),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: "clarus_session", Value: "tok_valid"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, principal.UserID, captured.UserID)
}

func TestAuthenticatorHeaderWinsOverCookie(t *testing.T) {
	verifier, _ := newVerifier("tok_valid")
	var captured *Principal
	handler := Authenticator(verifier, "clarus_session")(
		captorHandler(&captured),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer tok_forged")
	req.AddCookie(&http.Cookie{Name: "clarus_session", Value: "tok_valid"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code,
		"a bad header must not fall back to the cookie")
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAdmin(next)

	t.Run("no principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "SESSION_INVALID")
	})

	t.Run("non-admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
		ctx := WithPrincipal(req.Context(), &Principal{
			UserID: uuid.New(),
			Role:   "user",
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil)
		ctx := WithPrincipal(req.Context(), &Principal{
			UserID: uuid.New(),
			Role:   "admin",
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
