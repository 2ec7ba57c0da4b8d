package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// handleQueryAudit returns audit entries for the caller's tenant.
// Query parameters: job_id, actor_id, action, start, end (RFC 3339),
// limit and offset.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.AuditFilter{
		ActorID: q.Get("actor_id"),
		Action:  core.AuditAction(q.Get("action")),
		Limit:   parseIntParam(r, "limit", 0),
		Offset:  parseIntParam(r, "offset", 0),
	}

	if v := q.Get("job_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid job_id", Field: "job_id"})
			return
		}
		f.JobID = &id
	}

	var err error
	if f.StartTime, err = parseTimeParam(r, "start"); err != nil {
		s.respondError(w, r, err)
		return
	}
	if f.EndTime, err = parseTimeParam(r, "end"); err != nil {
		s.respondError(w, r, err)
		return
	}

	entries, err := s.orch.QueryAudit(r.Context(), actorFrom(r), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// resolveRequest is the body of a validation error resolution.
type resolveRequest struct {
	Resolution core.Resolution `json:"resolution"`
}

func (s *Server) handleResolveError(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "errorID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid request body", Field: "resolution"})
		return
	}
	if err := s.orch.ResolveValidationError(r.Context(), actorFrom(r), id, req.Resolution); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "resolution": string(req.Resolution)})
}

// parseIntParam parses a non-negative integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// parseTimeParam parses an RFC 3339 query parameter. Absent means zero.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, &core.Error{Code: core.CodeInvalidOptions, Message: name + " must be an RFC 3339 timestamp", Field: name}
	}
	return t, nil
}
