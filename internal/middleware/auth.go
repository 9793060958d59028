package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/util"
)

// AuthMiddleware guards mutating endpoints with a single static API token,
// verified against a bcrypt hash so the token itself never sits in the
// environment. An empty hash disables the check for local development.
type AuthMiddleware struct {
	tokenHash string
}

func NewAuthMiddleware(tokenHash string) *AuthMiddleware {
	return &AuthMiddleware{tokenHash: tokenHash}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if !util.CheckTokenHash(token, m.tokenHash) {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
