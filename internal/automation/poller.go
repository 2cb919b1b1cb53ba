// Package automation polls tenants' e-commerce feeds and turns matching
// events into automation jobs, at most once per event.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/smsleopard-delivery/internal/delivery"
	"github.com/unclebandit/smsleopard-delivery/internal/feed"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// EventSource pages through a tenant's feed.
type EventSource interface {
	Events(ctx context.Context, conn feed.Connection, since time.Time, page int) (feed.EventPage, error)
}

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Add(ctx context.Context, queueName, jobName string, payload any, opts queue.AddOptions) (queue.JobHandle, error)
}

type trigger struct {
	subjectType string
	action      string
}

var triggers = map[string]trigger{
	model.AutomationOrderCreated:    {feed.SubjectOrder, feed.ActionCreated},
	model.AutomationOrderFulfilled:  {feed.SubjectOrder, feed.ActionFulfilled},
	model.AutomationCustomerCreated: {feed.SubjectCustomer, feed.ActionCreated},
}

type Poller struct {
	Tenants     repository.TenantRepositoryInterface
	Automations repository.AutomationRepositoryInterface
	Processed   repository.ProcessedEventRepositoryInterface
	Feed        EventSource
	Queue       Enqueuer
	Window      Window
	MaxPages    int
	Retention   time.Duration
	Logger      *logrus.Logger

	now func() time.Time
}

// Result summarises one poll.
type Result struct {
	Automations int
	Fetched     int
	Queued      int
	Duplicates  int
	Failed      int
}

func (p *Poller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// RunOnce polls every active automation of every tenant with a feed. A
// failing automation is logged and the rest still run.
func (p *Poller) RunOnce(ctx context.Context) (Result, error) {
	tenants, err := p.Tenants.ListWithFeed(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list tenants with feed: %w", err)
	}
	var res Result
	for _, t := range tenants {
		automations, err := p.Automations.ListActive(ctx, t.ID)
		if err != nil {
			logger.LogError(p.Logger, "automation", "RunOnce", "list automations", map[string]any{"tenant_id": t.ID}, err)
			res.Failed++
			continue
		}
		for _, a := range automations {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Automations++
			if err := p.poll(ctx, t, a, &res); err != nil {
				logger.LogError(p.Logger, "automation", "RunOnce", "poll feed",
					map[string]any{"tenant_id": t.ID, "automation_type": a.Type}, err)
				res.Failed++
			}
		}
	}
	return res, nil
}

func (p *Poller) poll(ctx context.Context, t *model.Tenant, a *model.Automation, res *Result) error {
	trig, ok := triggers[a.Type]
	if !ok {
		return fmt.Errorf("unknown automation type %q", a.Type)
	}
	since, err := LowWaterMark(ctx, p.Processed, p.Window, t.ID, a.Type, p.clock())
	if err != nil {
		return fmt.Errorf("low-water-mark: %w", err)
	}

	events, fetched, err := p.fetch(ctx, feed.Connection{BaseURL: t.ShopBaseURL, Token: t.ShopToken}, since, trig)
	res.Fetched += fetched
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	seen, err := p.Processed.ExistingIDs(ctx, t.ID, a.Type, ids)
	if err != nil {
		return fmt.Errorf("existing processed events: %w", err)
	}

	var queued []model.ProcessedEvent
	var enqueueErr error
	for _, e := range events {
		if seen[e.ID] {
			res.Duplicates++
			continue
		}
		_, err := p.Queue.Add(ctx, queue.QueueAutomationTrigger, delivery.JobTriggerAutomation,
			delivery.AutomationPayload{
				TenantID:       t.ID,
				AutomationType: a.Type,
				EventID:        e.ID,
				SubjectType:    e.SubjectType,
				SubjectID:      e.SubjectID,
			},
			queue.AddOptions{JobID: delivery.AutomationJobID(t.ID, a.Type, e.ID)})
		if err != nil {
			enqueueErr = fmt.Errorf("enqueue event %s: %w", e.ID, err)
			break
		}
		queued = append(queued, model.ProcessedEvent{
			EventID:        e.ID,
			TenantID:       t.ID,
			AutomationType: a.Type,
			OccurredAt:     e.OccurredAt,
		})
	}

	// Record whatever made it onto the queue, even when a later add failed.
	if len(queued) > 0 {
		if _, err := p.Processed.InsertBatch(ctx, queued); err != nil {
			return fmt.Errorf("record processed events: %w", err)
		}
		res.Queued += len(queued)
		p.Logger.WithFields(logrus.Fields{
			"module":          "automation",
			"tenant_id":       t.ID,
			"automation_type": a.Type,
			"queued":          len(queued),
			"since":           since,
		}).Info("automation events queued")
	}
	return enqueueErr
}

// fetch pages through the feed from since and keeps the events matching
// the trigger, each id once.
func (p *Poller) fetch(ctx context.Context, conn feed.Connection, since time.Time, trig trigger) ([]feed.Event, int, error) {
	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	var matched []feed.Event
	seen := map[string]bool{}
	fetched := 0
	page := 1
	for i := 0; i < maxPages; i++ {
		batch, err := p.Feed.Events(ctx, conn, since, page)
		if err != nil {
			return matched, fetched, fmt.Errorf("fetch events page %d: %w", page, err)
		}
		fetched += len(batch.Events)
		for _, e := range batch.Events {
			if e.SubjectType != trig.subjectType || e.Action != trig.action || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			matched = append(matched, e)
		}
		if batch.NextPage == 0 || batch.NextPage == page {
			return matched, fetched, nil
		}
		page = batch.NextPage
	}
	p.Logger.WithFields(logrus.Fields{"module": "automation", "pages": maxPages}).Warn("feed page limit reached, rest left for the next poll")
	return matched, fetched, nil
}

// Prune drops processed events older than the retention period.
func (p *Poller) Prune(ctx context.Context) (int64, error) {
	n, err := p.Processed.DeleteBefore(ctx, p.clock().Add(-p.Retention))
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	if n > 0 {
		p.Logger.WithFields(logrus.Fields{"module": "automation", "deleted": n}).Info("processed events pruned")
	}
	return n, nil
}
