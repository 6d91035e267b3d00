package olympus

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

// AuthMiddleware enforces API key authentication.
// An empty apiKey logs a warning and allows all requests (INSECURE mode).
// Otherwise the Authorization header must contain "Bearer <key>".
func AuthMiddleware(apiKey string, logger hermes.Logger) func(http.Handler) http.Handler {
	if apiKey == "" {
		logger.Info(context.Background(), "running in INSECURE mode: server.api_key is not set, all requests are allowed", nil)
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Expect "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized: Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
				http.Error(w, "Unauthorized: Invalid API Key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
