// internal/model/processed_event.go
package model

import "time"

// Automation types.
const (
	AutomationOrderCreated    = "order_created"
	AutomationOrderFulfilled  = "order_fulfilled"
	AutomationCustomerCreated = "customer_created"
)

type Automation struct {
	ID        int       `db:"id" json:"id"`
	TenantID  int       `db:"tenant_id" json:"tenant_id"`
	Type      string    `db:"type" json:"type"`
	Template  string    `db:"template" json:"template"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent marks a feed event as already handed to an automation.
// Keyed by (EventID, TenantID, AutomationType); never updated.
type ProcessedEvent struct {
	EventID        string    `db:"event_id" json:"event_id"`
	TenantID       int       `db:"tenant_id" json:"tenant_id"`
	AutomationType string    `db:"automation_type" json:"automation_type"`
	OccurredAt     time.Time `db:"occurred_at" json:"occurred_at"`
	ProcessedAt    time.Time `db:"processed_at" json:"processed_at"`
}
