package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"eddm-registry/internal/auth"

	"go.uber.org/zap"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*auth.Claims, error)
}

// TokenVersionChecker reports whether a token version is still current for a user.
type TokenVersionChecker interface {
	CheckTokenVersion(ctx context.Context, userID string, tokenVersion int) (bool, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
	versions TokenVersionChecker
	logr     *zap.Logger
}

type contextKey string

const (
	ContextUserIDKey  contextKey = "userID"
	ContextAuthMethod contextKey = "authMethod"
	ContextClaimsKey  contextKey = "claims"
)

// NewAuthMiddleware creates a reusable JWT auth middleware instance
func NewAuthMiddleware(verifier TokenVerifier, versions TokenVersionChecker, logr *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		versions: versions,
		logr:     logr,
	}
}

func unauthorized(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// JWTAuth validates the token and attaches user info to request context
func (m *AuthMiddleware) JWTAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, http.StatusUnauthorized, "invalid token format")
			return
		}

		claims, err := m.verifier.VerifyToken(tokenString)
		if err != nil {
			m.logr.Warn("token parse error", zap.Error(err))
			unauthorized(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// Validate token version from DB
		valid, err := m.versions.CheckTokenVersion(r.Context(), claims.Subject, claims.TokenVersion)
		if err != nil {
			m.logr.Error("failed checking token version", zap.Error(err), zap.String("user_id", claims.Subject))
			unauthorized(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !valid {
			m.logr.Warn("token version invalid", zap.String("user_id", claims.Subject))
			unauthorized(w, http.StatusUnauthorized, "token revoked or invalid")
			return
		}

		ctx := context.WithValue(r.Context(), ContextUserIDKey, claims.Subject)
		ctx = context.WithValue(ctx, ContextAuthMethod, claims.AuthMethod)
		ctx = context.WithValue(ctx, ContextClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after JWTAuth.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(ContextClaimsKey).(*auth.Claims)
			if !ok || !claims.HasRole(role) {
				unauthorized(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
