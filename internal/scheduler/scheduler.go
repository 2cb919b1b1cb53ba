// Package scheduler moves due campaigns into sending and hands them to the
// dispatch queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/smsleopard-delivery/internal/delivery"
	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Add(ctx context.Context, queueName, jobName string, payload any, opts queue.AddOptions) (queue.JobHandle, error)
}

type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Queue     Enqueuer
	BatchSize int
	Logger    *logrus.Logger

	now func() time.Time
}

func New(campaigns repository.CampaignRepositoryInterface, q Enqueuer, batchSize int, log *logrus.Logger) *Scheduler {
	return &Scheduler{Campaigns: campaigns, Queue: q, BatchSize: batchSize, Logger: log, now: time.Now}
}

// Result summarises one pass.
type Result struct {
	Due      int
	Claimed  int
	Skipped  int
	Reverted int
}

// RunOnce claims every due campaign it can and enqueues one dispatch job per
// claim. A claim lost to another instance is skipped; a failed enqueue hands
// the campaign back to the next pass. Only a failure to list is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	due, err := s.Campaigns.ListDue(ctx, now, s.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list due campaigns: %w", err)
	}

	res := Result{Due: len(due)}
	for _, c := range due {
		entry := s.Logger.WithFields(logrus.Fields{"module": "scheduler", "campaign_id": c.ID, "tenant_id": c.TenantID})

		if err := s.Campaigns.ClaimScheduled(ctx, c.ID); err != nil {
			res.Skipped++
			var notFound *appErrors.ErrCampaignNotFound
			if errors.Is(err, appErrors.ErrClaimConflict) || errors.As(err, &notFound) {
				entry.Debug("campaign claimed elsewhere, skipping")
				continue
			}
			logger.LogError(s.Logger, "scheduler", "RunOnce", "claim campaign", map[string]any{"campaign_id": c.ID}, err)
			continue
		}

		handle, err := s.Queue.Add(ctx, queue.QueueCampaignDispatch, delivery.JobDispatchCampaign,
			delivery.DispatchPayload{CampaignID: c.ID},
			queue.AddOptions{JobID: delivery.DispatchJobID(c.ID)})
		if err != nil {
			res.Reverted++
			if rerr := s.Campaigns.RevertClaim(ctx, c.ID); rerr != nil {
				logger.LogError(s.Logger, "scheduler", "RunOnce", "revert claim", map[string]any{"campaign_id": c.ID}, rerr)
			}
			logger.LogError(s.Logger, "scheduler", "RunOnce", "enqueue dispatch", map[string]any{"campaign_id": c.ID}, err)
			continue
		}

		res.Claimed++
		entry.WithFields(logrus.Fields{"job_id": handle.ID, "backend": handle.Backend}).Info("campaign dispatch queued")
	}
	return res, nil
}

// Cancel stops a campaign that has not started sending.
func (s *Scheduler) Cancel(ctx context.Context, campaignID int) error {
	if err := s.Campaigns.Cancel(ctx, campaignID); err != nil {
		return err
	}
	s.Logger.WithFields(logrus.Fields{"module": "scheduler", "campaign_id": campaignID}).Info("campaign cancelled")
	return nil
}
