package identity

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ClientKeyHeader carries the browser-generated key that scopes records kept
// locally on the server.
const ClientKeyHeader = "X-Client-Key"

const maxClientKeyLen = 128

// Middleware attaches the caller's identity to the request context. Invalid
// credentials are rejected with 401; missing ones pass through as anonymous.
// A malformed client key is ignored.
func Middleware(p Provider, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Identify(r)
			if err != nil {
				logger.Debug("rejected credentials", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if key, ok := clientKey(r); ok {
				id = id.WithLocalScope(key)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !FromContext(r.Context()).IsAuthenticated() {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(ClientKeyHeader))
	if key == "" || len(key) > maxClientKeyLen {
		return "", false
	}
	for _, c := range key {
		if !(c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return "", false
		}
	}
	return key, true
}
