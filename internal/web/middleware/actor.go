package middleware

import (
	"net/http"
	"strings"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// Identity headers set by the upstream gateway.
const (
	HeaderActorID      = "X-Actor-ID"
	HeaderActorRole    = "X-Actor-Role"
	HeaderTenantID     = "X-Tenant-ID"
	HeaderCapabilities = "X-Capabilities"
)

// Actor builds a core.Actor from the identity headers and stores it, with
// the request's IP and user agent, in the request context. Requests
// without an actor or tenant are rejected.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := core.Actor{
			ID:       strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Role:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))),
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		}
		if actor.ID == "" || actor.TenantID == "" {
			http.Error(w, `{"error":"missing actor identity","code":"AUTH_MISSING_ACTOR"}`, http.StatusUnauthorized)
			return
		}
		actor.Capabilities = parseCapabilities(r.Header.Get(HeaderCapabilities), actor.Role)

		recordActor(r.Context(), actor)

		ctx := core.ContextWithActor(r.Context(), actor)
		ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr) // Already processed by TrustedRealIP
		ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseCapabilities(header, role string) []core.Capability {
	if header == "" {
		return core.RoleCapabilities(role)
	}
	var caps []core.Capability
	for _, c := range strings.Split(header, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, core.Capability(c))
		}
	}
	return caps
}
