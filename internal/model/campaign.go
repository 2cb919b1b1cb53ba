// internal/model/campaign.go
package model

import "time"

// Campaign statuses. sent, failed and cancelled are terminal.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"
	CampaignFailed    = "failed"
	CampaignCancelled = "cancelled"
)

type Campaign struct {
	ID             int        `db:"id" json:"id"`
	TenantID       int        `db:"tenant_id" json:"tenant_id"`
	Name           string     `db:"name" json:"name"`
	Channel        string     `db:"channel" json:"channel"`
	Status         string     `db:"status" json:"status"`
	BaseTemplate   string     `db:"base_template" json:"base_template"`
	ScheduledAt    *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	RecipientCount int        `db:"recipient_count" json:"recipient_count"`
	DeliveredCount int        `db:"delivered_count" json:"delivered_count"`
	FailedCount    int        `db:"failed_count" json:"failed_count"`
	FailureReason  string     `db:"failure_reason" json:"failure_reason,omitempty"`
	// DispatchedAt is set once the audience has been expanded. The recipient
	// set is frozen from then on.
	DispatchedAt *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// IsTerminal reports whether no further transitions are allowed.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignSent, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// IsDispatched reports whether the recipient set has been fixed.
func (c *Campaign) IsDispatched() bool {
	return c.DispatchedAt != nil
}
