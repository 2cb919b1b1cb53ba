package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/gateway"
	"github.com/unclebandit/smsleopard-delivery/internal/ledger"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// Gateway sends one message.
type Gateway interface {
	Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error)
}

// Message log statuses written by the send handler.
const (
	LogSent     = "sent"
	LogRetrying = "retrying"
	LogFailed   = "failed"
)

// SendHandler delivers one message through the gateway.
type SendHandler struct {
	Tenants     repository.TenantRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	MessageLogs repository.MessageLogRepositoryInterface
	Ledger      *ledger.Ledger
	Gateway     Gateway
	Logger      *logrus.Logger
}

func (h *SendHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p SendPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	tenant, err := h.Tenants.GetByID(ctx, p.TenantID)
	if err != nil {
		if errors.Is(err, appErrors.ErrTenantNotFound) {
			return appErrors.Permanent(err)
		}
		return err
	}
	if p.RecipientID != 0 {
		return h.sendRecipient(ctx, job, tenant, p)
	}
	return h.sendSingle(ctx, job, tenant, p)
}

// sendRecipient sends a campaign message. Credits were paid at dispatch;
// a recipient that finally fails gets its credit back.
func (h *SendHandler) sendRecipient(ctx context.Context, job *queue.Job, tenant *model.Tenant, p SendPayload) error {
	rec, err := h.Recipients.GetByID(ctx, p.RecipientID)
	if err != nil {
		return err
	}
	if rec == nil {
		return appErrors.Permanent(fmt.Errorf("recipient %d not found", p.RecipientID))
	}
	entry := h.Logger.WithFields(logrus.Fields{
		"module":       "delivery",
		"tenant_id":    tenant.ID,
		"campaign_id":  rec.CampaignID,
		"recipient_id": rec.ID,
		"job_id":       job.ID,
		"attempt":      job.Attempt,
	})
	if rec.Status != model.RecipientPending {
		entry.WithField("status", rec.Status).Debug("recipient already handled, send skipped")
		return nil
	}

	campaignID, recipientID := rec.CampaignID, rec.ID
	logRow := &model.MessageLog{
		TenantID:    tenant.ID,
		CampaignID:  &campaignID,
		RecipientID: &recipientID,
		Direction:   model.DirectionOutbound,
		Destination: rec.Destination,
		Body:        rec.RenderedContent,
	}

	res, sendErr := h.Gateway.Send(ctx, gateway.SendRequest{To: rec.Destination, Message: rec.RenderedContent, From: tenant.SenderID})
	if sendErr != nil {
		if !appErrors.IsPermanent(sendErr) && !job.LastAttempt() {
			if err := h.Recipients.RecordAttempt(ctx, rec.ID, sendErr.Error()); err != nil {
				logger.LogError(h.Logger, "delivery", "sendRecipient", "record attempt", map[string]any{"recipient_id": rec.ID}, err)
			}
			h.appendLog(ctx, logRow, LogRetrying, sendErr)
			return sendErr
		}

		failed, err := h.Recipients.MarkFailed(ctx, rec.ID, sendErr.Error())
		if err != nil {
			return err
		}
		if failed {
			ref := fmt.Sprintf("recipient:%d:refund", rec.ID)
			if _, err := h.Ledger.Refund(ctx, tenant.ID, 1, model.ReasonSendFailedRefund, ref); err != nil {
				return err
			}
		}
		h.appendLog(ctx, logRow, LogFailed, sendErr)
		entry.WithError(sendErr).Warn("recipient send failed")
		return appErrors.Permanent(sendErr)
	}

	moved, err := h.Recipients.MarkSent(ctx, rec.ID, res.MessageID, res.Status)
	if err != nil {
		return err
	}
	logRow.ProviderMessageID = res.MessageID
	h.appendLog(ctx, logRow, LogSent, nil)
	entry.WithFields(logrus.Fields{"provider_message_id": res.MessageID, "recorded": moved}).Info("recipient message sent")
	return nil
}

// sendSingle sends an automation message, paying for it first. The job id
// is the ledger reference so a retried job is charged once.
func (h *SendHandler) sendSingle(ctx context.Context, job *queue.Job, tenant *model.Tenant, p SendPayload) error {
	entry := h.Logger.WithFields(logrus.Fields{
		"module":    "delivery",
		"tenant_id": tenant.ID,
		"job_id":    job.ID,
		"attempt":   job.Attempt,
	})
	ref := "message:" + job.ID

	if _, err := h.Ledger.Consume(ctx, tenant.ID, 1, model.ReasonMessageSend, ref); err != nil {
		var insufficient *appErrors.InsufficientCredits
		if errors.As(err, &insufficient) {
			entry.Warn("message dropped: insufficient credits")
			return appErrors.Permanent(err)
		}
		return err
	}

	logRow := &model.MessageLog{
		TenantID:    tenant.ID,
		Direction:   model.DirectionOutbound,
		Destination: p.To,
		Body:        p.Body,
	}
	res, sendErr := h.Gateway.Send(ctx, gateway.SendRequest{To: p.To, Message: p.Body, From: tenant.SenderID})
	if sendErr != nil {
		if !appErrors.IsPermanent(sendErr) && !job.LastAttempt() {
			h.appendLog(ctx, logRow, LogRetrying, sendErr)
			return sendErr
		}
		if _, err := h.Ledger.Refund(ctx, tenant.ID, 1, model.ReasonSendFailedRefund, ref+":refund"); err != nil {
			return err
		}
		h.appendLog(ctx, logRow, LogFailed, sendErr)
		entry.WithError(sendErr).Warn("message send failed")
		return appErrors.Permanent(sendErr)
	}

	logRow.ProviderMessageID = res.MessageID
	h.appendLog(ctx, logRow, LogSent, nil)
	entry.WithField("provider_message_id", res.MessageID).Info("message sent")
	return nil
}

// appendLog writes the audit row. A failed audit write does not undo a send.
func (h *SendHandler) appendLog(ctx context.Context, row *model.MessageLog, status string, sendErr error) {
	entry := *row
	entry.Status = status
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := h.MessageLogs.Append(ctx, &entry); err != nil {
		logger.LogError(h.Logger, "delivery", "appendLog", "append message log", map[string]any{"destination": row.Destination}, err)
	}
}
