// internal/model/queue_job.go
package model

import (
	"encoding/json"
	"time"
)

// Fallback queue states.
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// QueueJob is a row of the persisted fallback queue.
type QueueJob struct {
	ID           int             `db:"id" json:"id"`
	QueueName    string          `db:"queue_name" json:"queue_name"`
	JobID        string          `db:"job_id" json:"job_id"`
	JobName      string          `db:"job_name" json:"job_name"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	State        string          `db:"state" json:"state"`
	Attempts     int             `db:"attempts" json:"attempts"`
	MaxAttempts  int             `db:"max_attempts" json:"max_attempts"`
	LastError    string          `db:"last_error" json:"last_error,omitempty"`
	ScheduledFor time.Time       `db:"scheduled_for" json:"scheduled_for"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
