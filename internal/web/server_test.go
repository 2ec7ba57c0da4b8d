package web

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/config"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/store/memstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/web/middleware"
)

const employeesCSV = "employee_id,email,first_name,last_name\n" +
	"E1,ada@example.com,Ada,Lovelace\n" +
	"E2,not-an-email,Alan,Turing\n" +
	"E3,grace@example.com,Grace,Hopper\n"

type testServer struct {
	*Server
	store *memstore.Store
	blobs *blobstore.MemoryStorage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	reg := prometheus.NewRegistry()
	audit := core.NewAuditLogger(nil, nil)
	orch := core.NewOrchestrator(store, audit, core.OrchestratorConfig{Metrics: core.NewMetrics(reg)})
	blobs := blobstore.NewMemoryStorage()

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
	srv := NewServer(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Runner:       core.NewRunner(orch, nil, nil),
		Rules:        core.NewRuleManager(store, audit, nil),
		Blobs:        blobs,
		Gatherer:     reg,
	})
	return &testServer{Server: srv, store: store, blobs: blobs}
}

func (ts *testServer) do(t *testing.T, req *http.Request, role string) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set(middleware.HeaderActorID, "user-1")
	req.Header.Set(middleware.HeaderTenantID, "acme")
	req.Header.Set(middleware.HeaderActorRole, role)
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, content, options string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	if options != "" {
		require.NoError(t, mw.WriteField("options", options))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestImportLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, uploadRequest(t, "employees.csv", employeesCSV, ""), "hr_manager")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	handle := decode[core.JobHandle](t, rec)
	require.Equal(t, core.StatusPending, handle.Status)

	ok, err := ts.blobs.Exists(t.Context(), blobstore.Key("acme", handle.Checksum))
	require.NoError(t, err)
	require.True(t, ok, "upload should be archived")

	base := "/api/imports/" + handle.JobID.String()

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, base+"/validate", nil), "hr_manager")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vs := decode[core.ValidationSummary](t, rec)
	require.Equal(t, core.StatusMapping, vs.Status)
	require.Equal(t, 3, vs.TotalRows)
	require.Equal(t, 1, vs.InvalidRows)

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, base+"/process?wait=true", nil), "hr_manager")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ps := decode[core.ProcessingSummary](t, rec)
	require.Equal(t, core.StatusCompleted, ps.Status)
	require.Equal(t, 2, ps.SuccessfulRows)
	require.Equal(t, 1, ps.ErrorRows)
	require.NotEmpty(t, ps.RollbackToken)
	require.Len(t, ts.store.Employees("acme"), 2)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/errors", nil), "hr")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "not-an-email")

	body := strings.NewReader(`{"token":"` + ps.RollbackToken + `"}`)
	rec = ts.do(t, httptest.NewRequest(http.MethodPost, base+"/rollback", body), "hr_manager")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rs := decode[core.RollbackSummary](t, rec)
	require.True(t, rs.Success)
	require.Equal(t, 2, rs.Reversed)
	require.Empty(t, ts.store.Employees("acme"))

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, base, nil), "hr")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, core.StatusRolledBack, decode[core.JobStatusView](t, rec).Status)
}

func TestAsyncProcessUsesRunner(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, uploadRequest(t, "employees.csv", employeesCSV, ""), "hr")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	handle := decode[core.JobHandle](t, rec)

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/imports/"+handle.JobID.String()+"/process", nil), "hr")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.False(t, decode[DispatchResponse](t, rec).Queued)

	res, err := ts.runner.Wait(t.Context(), handle.JobID)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	require.Equal(t, core.StatusCompleted, res.Processing.Status)
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)

	t.Run("forbidden without capability", func(t *testing.T) {
		rec := ts.do(t, uploadRequest(t, "employees.csv", employeesCSV, ""), "auditor")
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, core.CodeForbidden, decode[ErrorResponse](t, rec).Code)

		archived, err := ts.blobs.Exists(t.Context(), blobstore.Key("acme", core.Checksum([]byte(employeesCSV))))
		require.NoError(t, err)
		require.False(t, archived, "rejected uploads are not archived")
	})

	t.Run("empty file", func(t *testing.T) {
		rec := ts.do(t, uploadRequest(t, "empty.csv", "", ""), "hr")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, core.CodeFileEmpty, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("duplicate upload", func(t *testing.T) {
		content := "employee_id,email,first_name,last_name\nD1,d@example.com,Dee,Dup\n"
		rec := ts.do(t, uploadRequest(t, "dup.csv", content, ""), "hr")
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = ts.do(t, uploadRequest(t, "dup.csv", content, ""), "hr")
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, core.CodeDuplicateUpload, decode[ErrorResponse](t, rec).Code)

		rec = ts.do(t, uploadRequest(t, "dup.csv", content, `{"allow_duplicate_upload":true,"allow_partial_import":true}`), "hr")
		require.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/6f1c2b1e-0000-4000-8000-000000000000", nil), "hr")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, core.CodeJobNotFound, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("malformed job id", func(t *testing.T) {
		rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/imports/nope", nil), "hr")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing identity", func(t *testing.T) {
		rec := httptest.NewRecorder()
		ts.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("htmx error fragment", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/imports/6f1c2b1e-0000-4000-8000-000000000000", nil)
		req.Header.Set("HX-Request", "true")
		rec := ts.do(t, req, "hr")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		require.Contains(t, rec.Body.String(), "JOB_NOT_FOUND")
	})
}

func TestStatusFragmentForHTMX(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, uploadRequest(t, "employees.csv", employeesCSV, ""), "hr")
	require.Equal(t, http.StatusCreated, rec.Code)
	handle := decode[core.JobHandle](t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/imports/"+handle.JobID.String(), nil)
	req.Header.Set("HX-Request", "true")
	rec = ts.do(t, req, "hr")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), handle.ReferenceCode)
	require.Contains(t, rec.Body.String(), `hx-trigger="every 2s"`)
}

func TestMappingRulesAndAudit(t *testing.T) {
	ts := newTestServer(t)

	rule := `{"source_column":"Staff Number","target_field":"employee_id","is_active":true}`
	rec := ts.do(t, httptest.NewRequest(http.MethodPost, "/api/tenants/acme/mapping-rules", strings.NewReader(rule)), "admin")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, httptest.NewRequest(http.MethodPost, "/api/tenants/acme/mapping-rules", strings.NewReader(rule)), "admin")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, core.CodeRuleConflict, decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/tenants/other/mapping-rules", nil), "admin")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/audit?action=rule_created", nil), "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "rule_created")

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/audit?start=yesterday", nil), "admin")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/audit", nil), "hr")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := rateLimit(nil, 2, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
