package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const AccessToken TokenKind = "access"

var ErrInvalidToken = errors.New("invalid token")

type JWTManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
}

// Claims carried by admin access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind         TokenKind `json:"typ"`
	TokenVersion int       `json:"ver"`
	AuthMethod   string    `json:"auth_method"`
	Roles        []string  `json:"roles,omitempty"`
}

// HasRole reports whether the token grants role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"access_expires_at"`
	JTI         string    `json:"-"`
}

func NewJWTManager(privatePath, publicPath, issuer string) (*JWTManager, error) {
	privPem, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privPem)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubPem, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewJWTManagerFromKeys(privKey, pubKey, issuer), nil
}

func NewJWTManagerFromKeys(priv *rsa.PrivateKey, pub *rsa.PublicKey, issuer string) *JWTManager {
	return &JWTManager{
		privateKey: priv,
		publicKey:  pub,
		issuer:     issuer,
	}
}

// GenerateAccessToken signs an RS256 access token for an admin user.
func (m *JWTManager) GenerateAccessToken(userID string, ttl time.Duration, tokenVersion int, authMethod string, roles []string) (*Token, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	jti := uuid.New().String()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
		Kind:         AccessToken,
		TokenVersion: tokenVersion,
		AuthMethod:   authMethod,
		Roles:        roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, ExpiresAt: exp, JTI: jti}, nil
}

// VerifyToken checks the RS256 signature, expiry, issuer and token kind.
func (m *JWTManager) VerifyToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodRS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	}, jwt.WithLeeway(5*time.Second), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Kind != AccessToken {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
