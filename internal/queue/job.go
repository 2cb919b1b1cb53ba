package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Backend names reported on a JobHandle.
const (
	BackendBroker   = "broker"
	BackendFallback = "fallback"
)

// Job is what a handler receives.
type Job struct {
	ID          string
	Queue       string
	Name        string
	Payload     json.RawMessage
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure now fails the job for good.
func (j *Job) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// JobHandle identifies an accepted job.
type JobHandle struct {
	ID      string
	Queue   string
	Backend string
	// Duplicate is true when a job with the same id was already queued and
	// nothing new was added.
	Duplicate bool
}

// AddOptions tune a single Add call.
type AddOptions struct {
	// JobID makes the add idempotent. Empty means a random id.
	JobID string
	// Delay postpones the first attempt.
	Delay time.Duration
}

// Handler processes one job. Returning an error retries the job under the
// queue policy unless the error is permanent.
type Handler func(ctx context.Context, job *Job) error

// QueueStats counts jobs of one queue on one backend.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Backend accepts jobs.
type Backend interface {
	Add(ctx context.Context, queueName, jobName string, payload []byte, opts AddOptions) (JobHandle, error)
	Stats(ctx context.Context) (map[string]QueueStats, error)
	Close() error
}

// Consumer runs a handler over a queue until ctx is done.
type Consumer interface {
	Process(ctx context.Context, queueName string, h Handler) error
}

// Pinger fails when the target cannot take work.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Broker is the primary backend.
type Broker interface {
	Backend
	Consumer
	Pinger
}
