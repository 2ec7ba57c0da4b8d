package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
)

// HeaderAPIKey carries the gateway's shared secret.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuth authenticates the gateway that sets the identity headers read
// by Actor. It is a no-op unless RequireAPIKey is set; with no keys
// configured every request is then rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.RequireAPIKey {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAPIKey)
			status, code := http.StatusOK, ""
			switch {
			case key == "":
				status, code = http.StatusUnauthorized, "AUTH_MISSING_KEY"
			case !keyAccepted(key, cfg.APIKeys):
				status, code = http.StatusForbidden, "AUTH_INVALID_KEY"
			}
			if code != "" {
				slog.Warn("gateway key rejected", "code", code, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"gateway authentication failed","code":"` + code + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// keyAccepted compares against every key so timing does not reveal which
// one matched.
func keyAccepted(key string, keys []string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return match == 1
}
