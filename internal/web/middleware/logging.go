// Package middleware holds the HTTP middleware of the import API.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/logging"
)

type actorSlotKey struct{}

// withActorSlot lets the Actor middleware, which runs further down the
// chain, report the identity back to the request logger.
func withActorSlot(ctx context.Context, w *responseWriter) context.Context {
	return context.WithValue(ctx, actorSlotKey{}, w)
}

func recordActor(ctx context.Context, a core.Actor) {
	if w, ok := ctx.Value(actorSlotKey{}).(*responseWriter); ok {
		w.actor = &a
	}
}

// Logger writes one line per request: method, path, status, duration and
// client address, plus the actor and tenant once Actor has run. 5xx
// responses log at error and 4xx at warn.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r.WithContext(withActorSlot(r.Context(), ww)))

		logger := logging.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if ww.actor != nil {
			attrs = append(attrs, "actor_id", ww.actor.ID, "tenant_id", ww.actor.TenantID)
		}

		switch {
		case ww.status >= 500:
			logger.Error("request", attrs...)
		case ww.status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	})
}

// responseWriter records the status code and the actor.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	actor       *core.Actor
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush lets progress streams flush through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
