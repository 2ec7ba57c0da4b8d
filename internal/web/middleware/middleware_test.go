package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

func TestActor(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
		wantCaps []core.Capability
	}{
		{
			name:     "missing identity",
			headers:  map[string]string{HeaderTenantID: "acme"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "role capabilities",
			headers:  map[string]string{HeaderActorID: "u1", HeaderTenantID: "acme", HeaderActorRole: "HR"},
			wantCode: http.StatusOK,
			wantCaps: []core.Capability{core.CapImportWrite},
		},
		{
			name: "explicit capabilities",
			headers: map[string]string{
				HeaderActorID:      "u1",
				HeaderTenantID:     "acme",
				HeaderActorRole:    "hr",
				HeaderCapabilities: "import:audit, import:rollback",
			},
			wantCode: http.StatusOK,
			wantCaps: []core.Capability{core.CapImportAudit, core.CapImportRollback},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got core.Actor
			h := Actor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = core.ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if len(got.Capabilities) != len(tt.wantCaps) {
				t.Fatalf("capabilities = %v, want %v", got.Capabilities, tt.wantCaps)
			}
			for i, c := range tt.wantCaps {
				if got.Capabilities[i] != c {
					t.Errorf("capabilities[%d] = %q, want %q", i, got.Capabilities[i], c)
				}
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}
	h := APIKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"nope", http.StatusForbidden},
		{"k2", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("key %q: status = %d, want %d", tt.key, rec.Code, tt.want)
		}
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xrip   string
		want   string
	}{
		{"trusted proxy", "10.1.2.3:5000", "203.0.113.9", "203.0.113.9"},
		{"untrusted proxy", "198.51.100.1:5000", "203.0.113.9", "198.51.100.1:5000"},
		{"invalid header", "10.1.2.3:5000", "not-an-ip", "10.1.2.3:5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP([]string{"10.0.0.0/8"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Real-IP", tt.xrip)
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerRecordsActor(t *testing.T) {
	var seen *responseWriter
	h := Logger(Actor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(actorSlotKey{}).(*responseWriter)
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/imports", nil)
	req.Header.Set(HeaderActorID, "u1")
	req.Header.Set(HeaderTenantID, "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen == nil || seen.actor == nil || seen.actor.ID != "u1" {
		t.Fatalf("logger did not see actor: %+v", seen)
	}
	if seen.status != http.StatusAccepted {
		t.Errorf("captured status = %d", seen.status)
	}
}
