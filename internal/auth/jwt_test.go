package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*JWTManager, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewJWTManagerFromKeys(key, &key.PublicKey, "eddm-registry"), key
}

func TestGenerateAndVerify(t *testing.T) {
	m, _ := newTestManager(t)

	tok, err := m.GenerateAccessToken("user-1", time.Hour, 3, "local", []string{"admin"})
	require.NoError(t, err)
	assert.NotEmpty(t, tok.JTI)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	claims, err := m.VerifyToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, "local", claims.AuthMethod)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("editor"))
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, _ := newTestManager(t)

	tok, err := m.GenerateAccessToken("user-1", -time.Minute, 0, "local", nil)
	require.NoError(t, err)

	_, err = m.VerifyToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	m, _ := newTestManager(t)
	other, _ := newTestManager(t)

	tok, err := other.GenerateAccessToken("user-1", time.Hour, 0, "local", nil)
	require.NoError(t, err)

	_, err = m.VerifyToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsOtherIssuerAndAlgorithm(t *testing.T) {
	m, key := newTestManager(t)

	foreign := NewJWTManagerFromKeys(key, &key.PublicKey, "someone-else")
	tok, err := foreign.GenerateAccessToken("user-1", time.Hour, 0, "local", nil)
	require.NoError(t, err)
	_, err = m.VerifyToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "typ": "access"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.VerifyToken(hs)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTManagerFromFiles(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644))

	m, err := NewJWTManager(privPath, pubPath, "eddm-registry")
	require.NoError(t, err)

	tok, err := m.GenerateAccessToken("user-2", time.Minute, 0, "ldap", []string{"admin"})
	require.NoError(t, err)
	_, err = m.VerifyToken(tok.AccessToken)
	assert.NoError(t, err)

	_, err = NewJWTManager(filepath.Join(dir, "missing.pem"), pubPath, "x")
	assert.Error(t, err)
}
