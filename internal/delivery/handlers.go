package delivery

import "github.com/unclebandit/smsleopard-delivery/internal/queue"

// Handlers groups the job handlers by queue.
type Handlers struct {
	Dispatch   *DispatchHandler
	Send       *SendHandler
	Automation *AutomationHandler
}

// ByQueue returns the handler serving each queue.
func (h *Handlers) ByQueue() map[string]queue.Handler {
	return map[string]queue.Handler{
		queue.QueueCampaignDispatch:  h.Dispatch.Handle,
		queue.QueueSend:              h.Send.Handle,
		queue.QueueAutomationTrigger: h.Automation.Handle,
	}
}
