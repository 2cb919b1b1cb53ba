// Package delivery holds the job handlers that turn campaigns and
// automation events into gateway sends.
package delivery

import "fmt"

// Job names.
const (
	JobDispatchCampaign  = "dispatch-campaign"
	JobSendMessage       = "send-message"
	JobTriggerAutomation = "trigger-automation"
)

// DispatchPayload is the campaign-dispatch job body.
type DispatchPayload struct {
	CampaignID int `json:"campaign_id" validate:"required,gt=0"`
}

// SendPayload is the send job body. Campaign sends carry RecipientID and
// read everything else from the recipient row; single messages carry the
// full message.
type SendPayload struct {
	TenantID    int    `json:"tenant_id" validate:"required,gt=0"`
	CampaignID  int    `json:"campaign_id,omitempty" validate:"required_with=RecipientID"`
	RecipientID int    `json:"recipient_id,omitempty"`
	To          string `json:"to,omitempty" validate:"required_without=RecipientID"`
	Body        string `json:"body,omitempty" validate:"required_without=RecipientID"`
}

// AutomationPayload is the automation-trigger job body.
type AutomationPayload struct {
	TenantID       int    `json:"tenant_id" validate:"required,gt=0"`
	AutomationType string `json:"automation_type" validate:"required,oneof=order_created order_fulfilled customer_created"`
	EventID        string `json:"event_id" validate:"required"`
	SubjectType    string `json:"subject_type" validate:"required,oneof=order customer"`
	SubjectID      string `json:"subject_id" validate:"required"`
}

func DispatchJobID(campaignID int) string {
	return fmt.Sprintf("campaign-dispatch:%d", campaignID)
}

func RecipientSendJobID(recipientID int) string {
	return fmt.Sprintf("send:recipient:%d", recipientID)
}

func AutomationSendJobID(tenantID int, automationType, eventID string) string {
	return fmt.Sprintf("send:automation:%d:%s:%s", tenantID, automationType, eventID)
}

func AutomationJobID(tenantID int, automationType, eventID string) string {
	return fmt.Sprintf("automation:%d:%s:%s", tenantID, automationType, eventID)
}
