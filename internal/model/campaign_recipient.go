// internal/model/campaign_recipient.go
package model

import "time"

// Recipient send states, written by the delivery worker.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Provider delivery states, written by the status synchronizer.
// delivered and failed are terminal.
const (
	DeliveryUnknown   = ""
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

type CampaignRecipient struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        int        `db:"campaign_id" json:"campaign_id"`
	CustomerID        int        `db:"customer_id" json:"customer_id"`
	Destination       string     `db:"destination" json:"destination"`
	RenderedContent   string     `db:"rendered_content" json:"rendered_content"`
	Status            string     `db:"status" json:"status"` // pending, sent, failed
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	DeliveryStatus    string     `db:"delivery_status" json:"delivery_status,omitempty"`
	ProviderStatus    string     `db:"provider_status" json:"provider_status,omitempty"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	Attempts          int        `db:"attempts" json:"attempts"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsDeliveryTerminal reports whether the provider outcome is final.
func IsDeliveryTerminal(status string) bool {
	return status == DeliveryDelivered || status == DeliveryFailed
}

// RecipientCounts aggregates recipient rows of one campaign.
type RecipientCounts struct {
	Total   int
	Pending int
	Failed  int // send failed or delivery failed
}

// DeriveCampaignStatus maps recipient counts to the campaign status:
// anything pending keeps it sending, all failed fails it, otherwise sent.
// A campaign with no recipients counts as sent.
func DeriveCampaignStatus(c RecipientCounts) string {
	switch {
	case c.Pending > 0:
		return CampaignSending
	case c.Total > 0 && c.Failed == c.Total:
		return CampaignFailed
	default:
		return CampaignSent
	}
}
