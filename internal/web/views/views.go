// Package views renders HTML fragments for HTMX clients polling job status.
package views

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// fragment writes HTML and keeps the first write error.
type fragment struct {
	w   io.Writer
	err error
}

func (f *fragment) printf(format string, args ...any) {
	if f.err != nil {
		return
	}
	_, f.err = fmt.Fprintf(f.w, format, args...)
}

// JobStatus renders the status card for one job. While the job is running
// the card asks HTMX to poll again every two seconds.
func JobStatus(v *core.JobStatusView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		poll := ""
		if !v.Status.Terminal() {
			poll = fmt.Sprintf(` hx-get="/api/imports/%s" hx-trigger="every 2s" hx-swap="outerHTML"`, v.JobID)
		}

		f := &fragment{w: w}
		f.printf(`<div id="job-%s" class="import-job status-%s"%s>`,
			v.JobID, templ.EscapeString(string(v.Status)), poll)
		f.printf(`<h3>%s <small>%s</small></h3>`,
			templ.EscapeString(v.ReferenceCode), templ.EscapeString(v.Filename))
		f.printf(`<p class="status">%s</p>`, templ.EscapeString(statusLabel(v)))
		f.printf(`<progress max="100" value="%.0f"></progress>`, v.Percent)
		f.printf(`<dl><dt>Rows</dt><dd>%d / %d</dd><dt>Imported</dt><dd>%d</dd><dt>Errors</dt><dd>%d</dd></dl>`,
			v.ProcessedRows, v.TotalRows, v.SuccessfulRows, v.ErrorRows)

		if v.EstimatedCompletion != nil {
			f.printf(`<p class="eta">Estimated completion %s</p>`, v.EstimatedCompletion.Format(time.Kitchen))
		}
		if v.FailureReason != "" {
			f.printf(`<p class="error">%s</p>`, templ.EscapeString(v.FailureReason))
		}
		if v.RollbackExpires != nil && v.Status != core.StatusRolledBack {
			f.printf(`<p class="rollback">Rollback available until %s</p>`,
				v.RollbackExpires.UTC().Format("2006-01-02 15:04 MST"))
		}

		f.printf(`</div>`)
		return f.err
	})
}

// ErrorAlert renders an error message with its suggested action.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		f := &fragment{w: w}
		f.printf(`<div class="alert alert-error" role="alert"><p>%s</p>`, templ.EscapeString(message))
		if action != "" {
			f.printf(`<p class="action">%s</p>`, templ.EscapeString(action))
		}
		f.printf(`<small>Code: %s</small></div>`, templ.EscapeString(code))
		return f.err
	})
}

func statusLabel(v *core.JobStatusView) string {
	switch {
	case v.CancelRequested && !v.Status.Terminal():
		return "Cancelling"
	case v.Status == core.StatusMapping:
		return "Ready to import"
	case v.Status == core.StatusRolledBack:
		return "Rolled back"
	default:
		return string(v.Status)
	}
}
