package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/logging"
	"github.com/zakakatz/embrTimeOff-sub000/internal/queue"
	"github.com/zakakatz/embrTimeOff-sub000/internal/web/views"
)

// formOverhead is the multipart framing allowed on top of the file itself.
const formOverhead = 1 << 20

// DispatchResponse acknowledges a phase handed to the background.
type DispatchResponse struct {
	JobID  uuid.UUID  `json:"job_id"`
	Phase  core.Phase `json:"phase"`
	Queued bool       `json:"queued"`
}

// handleCreateJob accepts a multipart upload with a "file" part and an
// optional "options" JSON part. The bytes are archived before the job is
// created so background phases can read them back. Actors without
// import:write are turned away before the body is read.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !actor.Can(core.CapImportWrite) {
		s.respondError(w, r, &core.Error{Code: core.CodeForbidden, Message: "actor may not create imports"})
		return
	}

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, &core.Error{Code: core.CodeFileTooLarge, Message: fmt.Sprintf("upload exceeds %d bytes", maxSize)})
			return
		}
		s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid multipart form", Err: err})
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "no file provided", Field: "file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, &core.Error{Code: core.CodeFileUnreadable, Message: "failed to read upload", Err: err})
		return
	}

	opts := core.DefaultJobOptions()
	if raw := r.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "invalid options JSON", Field: "options"})
			return
		}
	}

	ctx := r.Context()
	if len(data) > 0 {
		key := blobstore.Key(actor.TenantID, core.Checksum(data))
		if err := s.blobs.Put(ctx, key, data); err != nil {
			s.respondError(w, r, &core.Error{Code: core.CodeInfrastructure, Message: "could not archive upload", Retryable: true, Err: err})
			return
		}
	}

	handle, err := s.orch.CreateJob(ctx, actor, data, header.Filename, actor.TenantID, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, handle)
}

// handleValidateJob validates a job. The file may be sent again in the
// body; otherwise the archived upload is used. With ?async=true the run
// happens in the background.
func (s *Server) handleValidateJob(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	data, err := s.uploadBytes(w, r, view)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		s.dispatch(w, r, view, core.PhaseValidate, data)
		return
	}

	summary, err := s.orch.ValidateJob(r.Context(), actorFrom(r), view.JobID, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleProcessJob starts processing in the background and returns 202.
// With ?wait=true it processes inline and returns the summary.
func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	data, err := s.uploadBytes(w, r, view)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		s.dispatch(w, r, view, core.PhaseProcess, data)
		return
	}

	summary, err := s.orch.ProcessJob(r.Context(), actorFrom(r), view.JobID, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// dispatch hands a phase to the queue when one is configured, otherwise
// to the in-process runner.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, view *core.JobStatusView, phase core.Phase, data []byte) {
	ctx := r.Context()
	actor := actorFrom(r)

	if s.producer != nil {
		key := blobstore.Key(view.TenantID, view.Checksum)
		if core.Checksum(data) == view.Checksum {
			if err := s.blobs.Put(ctx, key, data); err != nil {
				s.respondError(w, r, &core.Error{Code: core.CodeInfrastructure, Message: "could not archive upload", Retryable: true, Err: err})
				return
			}
		}
		msg := queue.Message{JobID: view.JobID, TenantID: view.TenantID, Actor: actor, Phase: phase, BlobKey: key}
		if err := s.producer.Enqueue(ctx, msg); err != nil {
			s.respondError(w, r, &core.Error{Code: core.CodeInfrastructure, Message: "could not queue job", Retryable: true, Err: err})
			return
		}
		writeJSON(w, http.StatusAccepted, DispatchResponse{JobID: view.JobID, Phase: phase, Queued: true})
		return
	}

	if err := s.runner.Start(ctx, actor, view.JobID, phase, data); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DispatchResponse{JobID: view.JobID, Phase: phase})
}

// uploadBytes returns the file sent with the request, or the archived
// upload when the request has no body.
func (s *Server) uploadBytes(w http.ResponseWriter, r *http.Request, view *core.JobStatusView) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+formOverhead)
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, &core.Error{Code: core.CodeInvalidOptions, Message: "no file provided", Field: "file"}
		}
		defer file.Close()
		return io.ReadAll(file)
	case r.ContentLength > 0 && !strings.HasPrefix(ct, "application/json"):
		return io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize))
	}

	data, err := s.blobs.Get(r.Context(), blobstore.Key(view.TenantID, view.Checksum))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, &core.Error{Code: core.CodeInvalidOptions, Message: "upload is not archived; send the file with the request", Field: "file"}
	}
	if err != nil {
		return nil, &core.Error{Code: core.CodeInfrastructure, Message: "could not read archived upload", Retryable: true, Err: err}
	}
	return data, nil
}

// loadJob resolves the jobID parameter for the calling tenant.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*core.JobStatusView, bool) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	view, err := s.orch.GetStatus(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return view, true
}

// handleGetStatus returns the job status as JSON, or as an HTML fragment
// for HTMX requests.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := views.JobStatus(view).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render job status", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleJobEvents streams progress of a background run via Server-Sent
// Events. Without a live run it sends the current status and completes.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	view, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	progressCh, err := s.runner.Subscribe(view.JobID)
	if err != nil {
		data, _ := json.Marshal(view)
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
		fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
		flusher.Flush()
		return
	}

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed - run finished
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.ProcessedRows, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleListErrors(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	errs, err := s.orch.ListValidationErrors(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs, "count": len(errs)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	view, err := s.orch.CancelJob(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	handle, err := s.orch.RetryJob(r.Context(), actorFrom(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

// rollbackRequest is the body of a rollback call.
type rollbackRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Token == "" {
		s.respondError(w, r, &core.Error{Code: core.CodeInvalidOptions, Message: "rollback token is required", Field: "token"})
		return
	}

	summary, err := s.orch.RequestRollback(r.Context(), actorFrom(r), id, req.Token)
	if err != nil {
		if summary != nil && core.ErrorCode(err) == core.CodeRollbackPartial {
			// Report progress so the caller knows what remains.
			writeJSON(w, http.StatusConflict, summary)
			return
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "jobID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.orch.DeleteJob(r.Context(), actorFrom(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
