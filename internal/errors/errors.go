// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrClaimConflict means another process won a claim. Callers skip silently.
	ErrClaimConflict = errors.New("claim conflict")
	// ErrDuplicate means the operation was already applied under the same key.
	ErrDuplicate = errors.New("duplicate")
	// ErrQueueUnavailable is returned by the primary broker when it cannot accept work.
	ErrQueueUnavailable = errors.New("queue backend unavailable")
	// ErrNotCancellable is returned when a campaign left draft/scheduled.
	ErrNotCancellable = errors.New("campaign can only be cancelled while draft or scheduled")
	ErrTenantNotFound = errors.New("tenant not found")
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// InsufficientCredits is user-facing and never retried; the tenant must top up.
type InsufficientCredits struct {
	TenantID  int
	Required  int
	Available int
	Missing   int
}

func (e *InsufficientCredits) Error() string {
	return fmt.Sprintf("tenant %d has insufficient credits: required %d, available %d, missing %d",
		e.TenantID, e.Required, e.Available, e.Missing)
}

func NewInsufficientCredits(tenantID, required, available int) error {
	return &InsufficientCredits{
		TenantID:  tenantID,
		Required:  required,
		Available: available,
		Missing:   required - available,
	}
}

// TransientGatewayError is a gateway failure worth retrying (network, timeout, 5xx).
type TransientGatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientGatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: transient status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// GatewayRejected is a definitive refusal by the gateway (4xx). Not retried.
type GatewayRejected struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *GatewayRejected) Error() string {
	return fmt.Sprintf("gateway %s rejected with status %d: %s", e.Op, e.StatusCode, e.Reason)
}

// permanentError tells the queue to stop retrying a job.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable by the job queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, should not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	var rejected *GatewayRejected
	if errors.As(err, &rejected) {
		return true
	}
	var insufficient *InsufficientCredits
	return errors.As(err, &insufficient)
}
