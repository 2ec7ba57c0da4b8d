package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/queue"
)

type fakePipeline struct {
	validated []byte
	processed []byte
	err       error
}

func (f *fakePipeline) ValidateJob(ctx context.Context, actor core.Actor, jobID uuid.UUID, data []byte) (*core.ValidationSummary, error) {
	f.validated = data
	if f.err != nil {
		return nil, f.err
	}
	return &core.ValidationSummary{JobID: jobID, Status: core.StatusMapping}, nil
}

func (f *fakePipeline) ProcessJob(ctx context.Context, actor core.Actor, jobID uuid.UUID, data []byte) (*core.ProcessingSummary, error) {
	f.processed = data
	if f.err != nil {
		return nil, f.err
	}
	return &core.ProcessingSummary{JobID: jobID, Status: core.StatusCompleted}, nil
}

func message(t *testing.T, phase core.Phase, key string) []byte {
	t.Helper()
	b, err := json.Marshal(queue.Message{JobID: uuid.New(), TenantID: "acme", Phase: phase, BlobKey: key})
	require.NoError(t, err)
	return b
}

func TestHandleRunsPhaseWithStoredUpload(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStorage()
	upload := []byte("employee_id,email\n1,a@example.com\n")
	require.NoError(t, blobs.Put(ctx, "k", upload))

	p := &fakePipeline{}
	w := New(p, blobs, nil, nil)

	require.NoError(t, w.Handle(ctx, message(t, core.PhaseValidate, "k")))
	require.Equal(t, upload, p.validated)

	require.NoError(t, w.Handle(ctx, message(t, core.PhaseProcess, "k")))
	require.Equal(t, upload, p.processed)
}

func TestHandleErrors(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStorage()
	require.NoError(t, blobs.Put(ctx, "k", []byte("x")))

	t.Run("missing blob is returned", func(t *testing.T) {
		w := New(&fakePipeline{}, blobs, nil, nil)
		err := w.Handle(ctx, message(t, core.PhaseValidate, "missing"))
		require.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("plain error is returned", func(t *testing.T) {
		w := New(&fakePipeline{err: errors.New("connection reset")}, blobs, nil, nil)
		require.Error(t, w.Handle(ctx, message(t, core.PhaseProcess, "k")))
	})

	t.Run("rejected run is swallowed", func(t *testing.T) {
		rejected := &core.Error{Code: core.CodeInvalidTransition, Message: "job is completed"}
		w := New(&fakePipeline{err: rejected}, blobs, nil, nil)
		require.NoError(t, w.Handle(ctx, message(t, core.PhaseProcess, "k")))
	})

	t.Run("retryable error is returned", func(t *testing.T) {
		busy := &core.Error{Code: core.CodeJobInFlight, Message: "running", Retryable: true}
		w := New(&fakePipeline{err: busy}, blobs, nil, nil)
		require.Error(t, w.Handle(ctx, message(t, core.PhaseProcess, "k")))
	})

	t.Run("bad message is returned", func(t *testing.T) {
		w := New(&fakePipeline{}, blobs, nil, nil)
		require.Error(t, w.Handle(ctx, []byte("{")))
	})
}
