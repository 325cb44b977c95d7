package ws

import (
	"time"

	"github.com/HerbHall/panupgrade/pkg/models"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageJobLog    MessageType = "job.log"
	MessageJobStatus MessageType = "job.status"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// JobLogData is the payload for job.log messages.
type JobLogData struct {
	ID       int64           `json:"id"`
	Severity models.Severity `json:"severity"`
	Message  string          `json:"message"`
}

// JobStatusData is the payload for job.status messages.
type JobStatusData struct {
	Status      models.JobStatus `json:"status"`
	CurrentStep string           `json:"current_step,omitempty"`
}
