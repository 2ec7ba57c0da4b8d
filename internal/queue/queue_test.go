package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

func TestOptionsDeadLetter(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"default suffix", Options{Queue: "imports"}, "imports:dlq"},
		{"custom suffix", Options{Queue: "imports", DLQSuffix: "-dead"}, "imports-dead"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.DeadLetter(); got != tt.want {
				t.Errorf("DeadLetter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	id := uuid.New()
	good, _ := json.Marshal(Message{
		JobID:    id,
		TenantID: "acme",
		Actor:    core.Actor{ID: "u1", TenantID: "acme"},
		Phase:    core.PhaseProcess,
		BlobKey:  "imports/acme/abc",
	})

	m, err := Decode(good)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.JobID != id || m.Phase != core.PhaseProcess || m.Actor.ID != "u1" {
		t.Errorf("Decode() = %+v", m)
	}

	bad := []string{
		`not json`,
		`{"blob_key":"k"}`,
		`{"job_id":"` + id.String() + `"}`,
	}
	for _, b := range bad {
		if _, err := Decode([]byte(b)); err == nil {
			t.Errorf("Decode(%s) error = nil", b)
		}
	}
}
