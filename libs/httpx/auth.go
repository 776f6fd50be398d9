package httpx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/studiobook/libs/auth"
	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-Api-Key"

// WithAuth parses a bearer token when present and stores its claims on the request context.
// Requests without a token pass through anonymously; an invalid token is rejected.
func WithAuth(v *auth.Verifier, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				if logger != nil {
					logger.Debug("token rejected", "request_id", RequestIDFromContext(r.Context()), "err", err)
				}
				WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.ClaimsFromContext(r.Context()); !ok {
			WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff admits staff and admin callers only.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !claims.IsStaff() {
			WriteError(w, http.StatusForbidden, "staff role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAPIKey guards internal endpoints with a shared key whose bcrypt hash is configured.
// An empty hash rejects every request.
func RequireAPIKey(bcryptHash string) Middleware {
	hash := []byte(strings.TrimSpace(bcryptHash))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if len(hash) == 0 || key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
				WriteError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
