package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// tenantParam returns the tenantID path parameter if it is the caller's
// tenant. Other tenants' rules are reported as missing.
func (s *Server) tenantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID != actorFrom(r).TenantID {
		s.respondError(w, r, &core.Error{Code: core.CodeJobNotFound, Message: "tenant not found"})
		return "", false
	}
	return tenantID, true
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	rules, err := s.rules.List(r.Context(), tenantID, r.URL.Query().Get("active") == "true")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}

	var rule core.FieldMappingRule
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&rule); err != nil {
		s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid rule JSON"})
		return
	}
	rule.TenantID = tenantID

	created, err := s.rules.Create(r.Context(), actorFrom(r), rule)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantParam(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "ruleID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.rules.Deactivate(r.Context(), actorFrom(r), tenantID, id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
