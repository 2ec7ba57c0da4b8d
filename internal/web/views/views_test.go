package views

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

func render(t *testing.T, v *core.JobStatusView) string {
	t.Helper()
	var buf bytes.Buffer
	if err := JobStatus(v).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return buf.String()
}

func TestJobStatus_PollsWhileRunning(t *testing.T) {
	v := &core.JobStatusView{JobID: uuid.New(), ReferenceCode: "IMP-20260101-ABCDEF", Status: core.StatusProcessing, TotalRows: 10, ProcessedRows: 5, Percent: 50}
	out := render(t, v)
	if !strings.Contains(out, `hx-trigger="every 2s"`) {
		t.Errorf("running job should poll: %s", out)
	}
	if !strings.Contains(out, "5 / 10") {
		t.Errorf("missing row counts: %s", out)
	}
}

func TestJobStatus_TerminalEscapes(t *testing.T) {
	exp := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC)
	v := &core.JobStatusView{
		JobID:           uuid.New(),
		Filename:        `<script>alert(1)</script>.csv`,
		Status:          core.StatusFailed,
		FailureReason:   "no rows were imported",
		RollbackExpires: &exp,
	}
	out := render(t, v)
	if strings.Contains(out, "hx-trigger") {
		t.Error("terminal job should not poll")
	}
	if strings.Contains(out, "<script>") {
		t.Error("filename was not escaped")
	}
	if !strings.Contains(out, "2026-01-04 10:00 UTC") {
		t.Errorf("missing rollback expiry: %s", out)
	}
}

func TestErrorAlert(t *testing.T) {
	var buf bytes.Buffer
	if err := ErrorAlert("Job not found", "Check the job ID", "JOB_NOT_FOUND").Render(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Job not found", "Check the job ID", "JOB_NOT_FOUND"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q in %s", want, buf.String())
		}
	}
}

// flakyWriter fails only its nth write.
type flakyWriter struct {
	n, calls int
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls == w.n {
		return 0, errors.New("connection reset")
	}
	return len(p), nil
}

func TestRenderReportsLaterWriteErrors(t *testing.T) {
	v := &core.JobStatusView{JobID: uuid.New(), Status: core.StatusProcessing, TotalRows: 4}
	for n := 1; n <= 4; n++ {
		w := &flakyWriter{n: n}
		if err := JobStatus(v).Render(context.Background(), w); err == nil {
			t.Errorf("JobStatus: failure on write %d was dropped", n)
		}
		if w.calls != n {
			t.Errorf("JobStatus kept writing after write %d failed (%d writes)", n, w.calls)
		}
	}

	w := &flakyWriter{n: 2}
	if err := ErrorAlert("Job not found", "Check the job ID", "JOB_NOT_FOUND").Render(context.Background(), w); err == nil {
		t.Error("ErrorAlert: failure on the action paragraph was dropped")
	}
}
