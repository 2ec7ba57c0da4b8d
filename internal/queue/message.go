package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// Message asks a worker to run one pipeline phase for a job. The upload
// bytes are fetched from blob storage under BlobKey.
type Message struct {
	JobID    uuid.UUID  `json:"job_id"`
	TenantID string     `json:"tenant_id"`
	Actor    core.Actor `json:"actor"`
	Phase    core.Phase `json:"phase"`
	BlobKey  string     `json:"blob_key"`
	Attempt  int        `json:"attempt"`
}

// Decode parses a queued message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.JobID == uuid.Nil {
		return Message{}, fmt.Errorf("decode message: missing job_id")
	}
	if m.BlobKey == "" {
		return Message{}, fmt.Errorf("decode message: missing blob_key")
	}
	return m, nil
}
