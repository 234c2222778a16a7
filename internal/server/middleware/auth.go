package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tripdeck/backend/internal/security"
	"tripdeck/backend/internal/server/respond"
)

const bearerPrefix = "bearer "

// SessionChecker reports whether a session may still be used. Implemented by
// the auth service; a revoked or expired session fails even when the access
// token itself is still valid.
type SessionChecker interface {
	SessionLive(ctx context.Context, sessionID string) (bool, error)
}

// RequireAuth validates the Bearer access token, checks the session is still
// live, and sets the identity in context for the wrapped handler.
func RequireAuth(tokens *security.TokenProvider, sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "missing or invalid authorization")
				return
			}
			identity, err := tokens.ValidateAccess(token)
			if err != nil {
				if errors.Is(err, security.ErrExpiredToken) {
					respond.Error(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired")
					return
				}
				respond.Error(w, http.StatusUnauthorized, "TOKEN_INVALID", "invalid access token")
				return
			}
			live, err := sessions.SessionLive(r.Context(), identity.SessionID)
			if err != nil {
				respond.Error(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error")
				return
			}
			if !live {
				respond.Error(w, http.StatusUnauthorized, "SESSION_EXPIRED", "session expired or revoked")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractBearer returns the Bearer token from the Authorization header, or ""
// if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
