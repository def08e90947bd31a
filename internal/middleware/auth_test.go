package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eddm-registry/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type versionStub struct {
	current int
	err     error
}

func (v versionStub) CheckTokenVersion(_ context.Context, _ string, tokenVersion int) (bool, error) {
	return tokenVersion == v.current, v.err
}

func setupMiddleware(t *testing.T, versions TokenVersionChecker) (*AuthMiddleware, *auth.JWTManager, http.Handler) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwtManager := auth.NewJWTManagerFromKeys(key, &key.PublicKey, "eddm-registry")
	mw := NewAuthMiddleware(jwtManager, versions, zap.NewNop())

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value(ContextUserIDKey).(string)
		_, _ = w.Write([]byte(userID))
	})
	return mw, jwtManager, mw.JWTAuth(mw.RequireRole("admin")(final))
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/routes", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAcceptsAdmin(t *testing.T) {
	_, jwtManager, h := setupMiddleware(t, versionStub{current: 1})
	tok, err := jwtManager.GenerateAccessToken("admin-1", time.Hour, 1, "local", []string{"admin"})
	require.NoError(t, err)

	rec := serve(h, "Bearer "+tok.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", rec.Body.String())
}

func TestJWTAuthRejects(t *testing.T) {
	_, jwtManager, h := setupMiddleware(t, versionStub{current: 1})

	nonAdmin, err := jwtManager.GenerateAccessToken("user-1", time.Hour, 1, "ldap", nil)
	require.NoError(t, err)
	revoked, err := jwtManager.GenerateAccessToken("admin-1", time.Hour, 0, "local", []string{"admin"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"revoked version", "Bearer " + revoked.AccessToken, http.StatusUnauthorized},
		{"missing role", "Bearer " + nonAdmin.AccessToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.header)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestJWTAuthVersionLookupFailure(t *testing.T) {
	_, jwtManager, h := setupMiddleware(t, versionStub{err: errors.New("db down")})
	tok, err := jwtManager.GenerateAccessToken("admin-1", time.Hour, 0, "local", []string{"admin"})
	require.NoError(t, err)

	rec := serve(h, "Bearer "+tok.AccessToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
