// Package web exposes the import pipeline over HTTP.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/ulule/limiter/v3"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/queue"
	"github.com/zakakatz/embrTimeOff-sub000/internal/web/middleware"
)

// Deps are the collaborators the server needs. Producer, RateStore and
// Gatherer are optional.
type Deps struct {
	Config       *config.Config
	Orchestrator *core.Orchestrator
	Runner       *core.Runner
	Rules        *core.RuleManager
	Blobs        blobstore.Storage
	Producer     *queue.Producer
	RateStore    limiter.Store
	Gatherer     prometheus.Gatherer
	Health       func(ctx context.Context) error
}

// Server is the HTTP server for the import API.
type Server struct {
	cfg      *config.Config
	orch     *core.Orchestrator
	runner   *core.Runner
	rules    *core.RuleManager
	blobs    blobstore.Storage
	producer *queue.Producer
	health   func(ctx context.Context) error

	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:      d.Config,
		orch:     d.Orchestrator,
		runner:   d.Runner,
		rules:    d.Rules,
		blobs:    d.Blobs,
		producer: d.Producer,
		health:   d.Health,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware(d)
	s.setupRoutes(d)
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware(d Deps) {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)

	// Security hardening
	s.router.Use(securityHeaders)
	s.router.Use(corsHandler(s.cfg.Security.AllowedOrigins).Handler)

	if s.cfg.Rate.Enabled {
		s.router.Use(rateLimit(d.RateStore, s.cfg.Rate.RequestsPerMinute, "global"))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(d Deps) {
	s.router.Get("/health", s.handleHealth)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))
		r.Use(middleware.Actor)

		// Event streams outlive the request timeout.
		r.Get("/imports/{jobID}/events", s.handleJobEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			r.With(s.uploadLimit()).Post("/imports", s.handleCreateJob)
			r.Route("/imports/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetStatus)
				r.Delete("/", s.handleDeleteJob)
				r.Post("/validate", s.handleValidateJob)
				r.Post("/process", s.handleProcessJob)
				r.Get("/errors", s.handleListErrors)
				r.Post("/cancel", s.handleCancelJob)
				r.Post("/retry", s.handleRetryJob)
				r.Post("/rollback", s.handleRollback)
			})

			r.Patch("/validation-errors/{errorID}", s.handleResolveError)
			r.Get("/audit", s.handleQueryAudit)

			r.Route("/tenants/{tenantID}/mapping-rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)
				r.Post("/{ruleID}/deactivate", s.handleDeactivateRule)
			})
		})
	})
}

// uploadLimit applies the stricter per-IP limit to uploads.
func (s *Server) uploadLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return rateLimit(nil, s.cfg.Rate.UploadLimit, "upload")
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // Zero keeps event streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
	}
	jobs := s.runner.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_jobs": jobs.Active,
		"max_jobs":    jobs.MaxConcurrent,
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Responses are JSON or HTMX fragments; nothing loads sub-resources
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func corsHandler(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type", "X-API-Key", "HX-Request", "HX-Target", "HX-Current-URL",
			middleware.HeaderActorID, middleware.HeaderActorRole, middleware.HeaderTenantID, middleware.HeaderCapabilities,
		},
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
