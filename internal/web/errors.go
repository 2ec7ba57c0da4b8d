package web

// respondError is the single exit for failed requests: the technical error
// is logged with the request ID and the client gets core.MapError's
// message, as JSON or as an HTML fragment for HTMX requests.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/logging"
	"github.com/zakakatz/embrTimeOff-sub000/internal/web/views"
)

var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	Field     string `json:"field,omitempty"`
	Row       int    `json:"row,omitempty"`
	Retryable bool   `json:"retryable"`
}

// statusCodes maps structured error codes to HTTP statuses.
var statusCodes = map[string]int{
	core.CodeFileEmpty:         http.StatusBadRequest,
	core.CodeFileTooLarge:      http.StatusRequestEntityTooLarge,
	core.CodeFileUnreadable:    http.StatusBadRequest,
	core.CodeNoHeader:          http.StatusBadRequest,
	core.CodeNoRows:            http.StatusBadRequest,
	core.CodeChecksumMismatch:  http.StatusBadRequest,
	core.CodeInvalidOptions:    http.StatusBadRequest,
	core.CodeDuplicateUpload:   http.StatusConflict,
	core.CodeInvalidTransition: http.StatusConflict,
	core.CodeJobInFlight:       http.StatusConflict,
	core.CodeRuleConflict:      http.StatusConflict,
	core.CodeRollbackPartial:   http.StatusConflict,
	core.CodeJobNotFound:       http.StatusNotFound,
	core.CodeRollbackExpired:   http.StatusGone,
	core.CodeTokenMismatch:     http.StatusForbidden,
	core.CodeForbidden:         http.StatusForbidden,
	core.CodeTooManyJobs:       http.StatusTooManyRequests,
	core.CodeInfrastructure:    http.StatusServiceUnavailable,
}

func statusFor(err error) int {
	if code, ok := statusCodes[core.ErrorCode(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error server-side and returns a
// user-friendly response in the format the client asked for.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= 500 {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if isHTMX(r) {
		renderErrorPartial(w, r, userMsg, statusCode)
		return
	}

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var e *core.Error
	if errors.As(err, &e) {
		resp.Field = e.Field
		resp.Row = e.Row
		resp.Retryable = e.Retryable
	}
	writeJSON(w, statusCode, resp)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	views.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
