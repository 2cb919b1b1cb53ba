package gateway

import (
	"strings"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

// providerStatuses maps raw provider vocabulary to recipient delivery states.
// Keys are upper-cased.
var providerStatuses = map[string]string{
	"QUEUED":    model.DeliverySent,
	"SENT":      model.DeliverySent,
	"SUBMITTED": model.DeliverySent,
	"BUFFERED":  model.DeliverySent,
	"ACCEPTED":  model.DeliverySent,
	"ENROUTE":   model.DeliverySent,

	"SUCCESS":   model.DeliveryDelivered,
	"DELIVERED": model.DeliveryDelivered,
	"DELIVRD":   model.DeliveryDelivered,

	"FAILED":      model.DeliveryFailed,
	"REJECTED":    model.DeliveryFailed,
	"REJECTD":     model.DeliveryFailed,
	"UNDELIVERED": model.DeliveryFailed,
	"UNDELIV":     model.DeliveryFailed,
	"EXPIRED":     model.DeliveryFailed,
}

// MapStatus translates a raw provider status. known is false for values
// outside the table; those are treated as still in flight.
func MapStatus(raw string) (status string, known bool) {
	status, known = providerStatuses[strings.ToUpper(strings.TrimSpace(raw))]
	if !known {
		return model.DeliverySent, false
	}
	return status, true
}
