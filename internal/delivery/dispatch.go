package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/ledger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

var validate = validator.New()

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Add(ctx context.Context, queueName, jobName string, payload any, opts queue.AddOptions) (queue.JobHandle, error)
}

// DispatchHandler expands a claimed campaign into recipients, pays for all
// of them up front and queues one send job each.
type DispatchHandler struct {
	Campaigns  repository.CampaignRepositoryInterface
	Customers  repository.CustomerRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Ledger     *ledger.Ledger
	Queue      Enqueuer
	Region     string
	Logger     *logrus.Logger
}

func dispatchReference(campaignID int) string {
	return fmt.Sprintf("campaign:%d:dispatch", campaignID)
}

// decode reads and validates a job payload. Malformed payloads never
// become valid, so they are not retried.
func decode(job *queue.Job, v any) error {
	if err := job.Decode(v); err != nil {
		return appErrors.Permanent(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	if err := validate.Struct(v); err != nil {
		return appErrors.Permanent(fmt.Errorf("invalid %s payload: %w", job.Name, err))
	}
	return nil
}

func (h *DispatchHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p DispatchPayload
	if err := decode(job, &p); err != nil {
		return err
	}

	c, err := h.Campaigns.GetByID(ctx, p.CampaignID)
	if err != nil {
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			return appErrors.Permanent(err)
		}
		return err
	}
	entry := h.Logger.WithFields(logrus.Fields{
		"module":      "delivery",
		"campaign_id": c.ID,
		"tenant_id":   c.TenantID,
		"job_id":      job.ID,
	})
	if c.Status != model.CampaignSending {
		entry.WithField("status", c.Status).Info("campaign no longer sending, dispatch skipped")
		return nil
	}

	if !c.IsDispatched() {
		frozen, err := h.freeze(ctx, c, entry)
		if err != nil {
			return err
		}
		if !frozen {
			return nil
		}
	}

	pending, err := h.Recipients.ListPending(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	// The recipient set is frozen, so a retry sees the same or fewer pending
	// rows than the attempt that paid, and replaying the reference is safe.
	bal, err := h.Ledger.Consume(ctx, c.TenantID, len(pending), model.ReasonCampaignDispatch, dispatchReference(c.ID))
	if err != nil {
		var insufficient *appErrors.InsufficientCredits
		if errors.As(err, &insufficient) {
			return h.failForCredits(ctx, c, pending, insufficient, entry)
		}
		return err
	}

	for _, rec := range pending {
		_, err := h.Queue.Add(ctx, queue.QueueSend, JobSendMessage,
			SendPayload{TenantID: c.TenantID, CampaignID: c.ID, RecipientID: rec.ID},
			queue.AddOptions{JobID: RecipientSendJobID(rec.ID)})
		if err != nil {
			return fmt.Errorf("enqueue send for recipient %d: %w", rec.ID, err)
		}
	}

	entry.WithFields(logrus.Fields{
		"recipients":        len(pending),
		"credits_remaining": bal.Remaining,
		"replayed":          bal.Replayed,
	}).Info("campaign dispatched")
	return nil
}

// freeze expands the audience and marks the campaign dispatched. It returns
// false when another run marked it first or the campaign left sending; that
// run owns the charge. A campaign without recipients is resolved here.
func (h *DispatchHandler) freeze(ctx context.Context, c *model.Campaign, entry *logrus.Entry) (bool, error) {
	if err := h.expand(ctx, c, entry); err != nil {
		return false, err
	}
	counts, err := h.Recipients.CountByCampaign(ctx, c.ID)
	if err != nil {
		return false, err
	}
	marked, err := h.Campaigns.MarkDispatched(ctx, c.ID, counts.Total)
	if err != nil {
		return false, err
	}
	if !marked {
		entry.Info("campaign already dispatched elsewhere, dispatch skipped")
		return false, nil
	}
	if counts.Total == 0 {
		status, _, err := h.Campaigns.RecomputeStatus(ctx, c.ID)
		if err != nil {
			return false, err
		}
		entry.WithField("status", status).Info("campaign has no reachable recipients")
		return false, nil
	}
	return true, nil
}

// expand creates one pending recipient per reachable customer. Existing
// rows for the same destination are kept.
func (h *DispatchHandler) expand(ctx context.Context, c *model.Campaign, entry *logrus.Entry) error {
	customers, err := h.Customers.ListAudience(ctx, c.TenantID)
	if err != nil {
		return err
	}
	skipped := 0
	for i := range customers {
		cust := &customers[i]
		phone, ok := NormalizePhone(cust.Phone, h.Region)
		if !ok {
			skipped++
			entry.WithFields(logrus.Fields{"customer_id": cust.ID}).Warn("invalid phone number, customer skipped")
			continue
		}
		_, err := h.Recipients.CreateIfAbsent(ctx, &model.CampaignRecipient{
			CampaignID:      c.ID,
			CustomerID:      cust.ID,
			Destination:     phone,
			RenderedContent: RenderTemplate(c.BaseTemplate, cust.TemplateData()),
		})
		if err != nil {
			return fmt.Errorf("create recipient for customer %d: %w", cust.ID, err)
		}
	}
	if skipped > 0 {
		entry.WithField("skipped", skipped).Info("campaign audience expanded with skips")
	}
	return nil
}

func (h *DispatchHandler) failForCredits(ctx context.Context, c *model.Campaign, pending []*model.CampaignRecipient, insufficient *appErrors.InsufficientCredits, entry *logrus.Entry) error {
	reason := insufficient.Error()
	if _, err := h.Campaigns.MarkFailed(ctx, c.ID, reason); err != nil {
		return err
	}
	for _, rec := range pending {
		if _, err := h.Recipients.MarkFailed(ctx, rec.ID, reason); err != nil {
			return err
		}
	}
	entry.WithFields(logrus.Fields{
		"required":  insufficient.Required,
		"available": insufficient.Available,
		"missing":   insufficient.Missing,
	}).Warn("campaign failed: insufficient credits")
	return nil
}
