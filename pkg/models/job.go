package models

import "time"

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusErrored   JobStatus = "errored"
	JobStatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether the status ends a job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusErrored || s == JobStatusSkipped
}

// Severity grades a task log entry.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Job is one requested upgrade of one device.
type Job struct {
	ID            string     `json:"id"`
	JobType       string     `json:"job_type" example:"upgrade"`
	AuthorID      string     `json:"author_id"`
	DeviceID      string     `json:"device_id"`
	ProfileID     string     `json:"profile_id"`
	TargetVersion string     `json:"target_version" example:"11.1.3"`
	DryRun        bool       `json:"dry_run"`
	Status        JobStatus  `json:"status"`
	CurrentStep   string     `json:"current_step"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// JobLogEntry is one append-only task log line.
type JobLogEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
