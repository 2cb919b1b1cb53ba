// internal/model/tenant.go
package model

import "time"

type Tenant struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Credits     int       `db:"credits" json:"credits"`
	SenderID    string    `db:"sender_id" json:"sender_id"`
	ShopBaseURL string    `db:"shop_base_url" json:"shop_base_url,omitempty"`
	ShopToken   string    `db:"shop_token" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// LedgerEntry is an append-only credit delta. Negative deltas are debits.
type LedgerEntry struct {
	ID           int       `db:"id" json:"id"`
	TenantID     int       `db:"tenant_id" json:"tenant_id"`
	Delta        int       `db:"delta" json:"delta"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	Reason       string    `db:"reason" json:"reason"`
	Reference    string    `db:"reference" json:"reference,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Ledger reasons.
const (
	ReasonCampaignDispatch = "campaign_dispatch"
	ReasonMessageSend      = "message_send"
	ReasonSendFailedRefund = "send_failed_refund"
	ReasonTopUp            = "top_up"
)
