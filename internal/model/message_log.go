// internal/model/message_log.go
package model

import "time"

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// MessageLog is an append-only audit row per send attempt.
type MessageLog struct {
	ID                int       `db:"id" json:"id"`
	TenantID          int       `db:"tenant_id" json:"tenant_id"`
	CampaignID        *int      `db:"campaign_id" json:"campaign_id,omitempty"`
	RecipientID       *int      `db:"recipient_id" json:"recipient_id,omitempty"`
	Direction         string    `db:"direction" json:"direction"`
	Destination       string    `db:"destination" json:"destination"`
	Body              string    `db:"body" json:"body"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Status            string    `db:"status" json:"status"`
	Error             string    `db:"error" json:"error,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
