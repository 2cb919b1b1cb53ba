package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/feed"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// SubjectSource looks up what a feed event refers to.
type SubjectSource interface {
	Subject(ctx context.Context, conn feed.Connection, subjectType, id string) (feed.Subject, error)
}

// AutomationHandler turns one feed event into one single-message send job.
type AutomationHandler struct {
	Tenants     repository.TenantRepositoryInterface
	Automations repository.AutomationRepositoryInterface
	Feed        SubjectSource
	Queue       Enqueuer
	Region      string
	Logger      *logrus.Logger
}

func (h *AutomationHandler) Handle(ctx context.Context, job *queue.Job) error {
	var p AutomationPayload
	if err := decode(job, &p); err != nil {
		return err
	}
	entry := h.Logger.WithFields(logrus.Fields{
		"module":          "delivery",
		"tenant_id":       p.TenantID,
		"automation_type": p.AutomationType,
		"event_id":        p.EventID,
		"job_id":          job.ID,
	})

	tenant, err := h.Tenants.GetByID(ctx, p.TenantID)
	if err != nil {
		if errors.Is(err, appErrors.ErrTenantNotFound) {
			return appErrors.Permanent(err)
		}
		return err
	}
	if tenant.ShopBaseURL == "" {
		return appErrors.Permanent(feed.ErrNoConnection)
	}
	automation, err := h.Automations.Get(ctx, p.TenantID, p.AutomationType)
	if err != nil {
		return err
	}
	if automation == nil || !automation.Active {
		entry.Info("automation disabled, event ignored")
		return nil
	}

	subject, err := h.Feed.Subject(ctx, feed.Connection{BaseURL: tenant.ShopBaseURL, Token: tenant.ShopToken}, p.SubjectType, p.SubjectID)
	if err != nil {
		return err
	}
	to, ok := NormalizePhone(subject.Phone, h.Region)
	if !ok {
		entry.Warn("subject has no valid phone number, event ignored")
		return nil
	}

	handle, err := h.Queue.Add(ctx, queue.QueueSend, JobSendMessage,
		SendPayload{TenantID: p.TenantID, To: to, Body: RenderTemplate(automation.Template, subject.TemplateData())},
		queue.AddOptions{JobID: AutomationSendJobID(p.TenantID, p.AutomationType, p.EventID)})
	if err != nil {
		return fmt.Errorf("enqueue automation send: %w", err)
	}
	entry.WithFields(logrus.Fields{"send_job_id": handle.ID, "duplicate": handle.Duplicate}).Info("automation message queued")
	return nil
}
