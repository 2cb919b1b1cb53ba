// Package statussync polls the gateway for the outcome of sent messages and
// settles recipients and campaigns.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/smsleopard-delivery/internal/gateway"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// StatusSource reports what the provider knows about a message.
type StatusSource interface {
	Status(ctx context.Context, providerMessageID string) (gateway.StatusResult, error)
}

// Locker hands out short-lived exclusive locks. ErrLocked means someone
// else holds the key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

var ErrLocked = errors.New("lock held elsewhere")

// RedisLocker implements Locker with redislock.
type RedisLocker struct {
	Client *redislock.Client
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.Client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

type Synchronizer struct {
	Campaigns   repository.CampaignRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	MessageLogs repository.MessageLogRepositoryInterface
	Gateway     StatusSource
	// Locker is optional; without it overlapping passes rely on the
	// conditional updates alone.
	Locker       Locker
	Concurrency  int
	RefineWindow time.Duration
	LockTTL      time.Duration
	Logger       *logrus.Logger

	now func() time.Time
}

// Result summarises a pass over one or more campaigns.
type Result struct {
	Campaigns int
	Locked    int
	Checked   int64
	Settled   int64
	Errors    int64
	Resolved  int
}

func (r *Result) add(o Result) {
	r.Campaigns += o.Campaigns
	r.Locked += o.Locked
	r.Checked += o.Checked
	r.Settled += o.Settled
	r.Errors += o.Errors
	r.Resolved += o.Resolved
}

func (s *Synchronizer) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// SyncAll walks every campaign still sending plus recently sent campaigns
// with messages the provider has not settled yet. A failing campaign is
// logged and does not stop the pass.
func (s *Synchronizer) SyncAll(ctx context.Context) (Result, error) {
	campaigns, err := s.Campaigns.ListForSync(ctx, s.clock().Add(-s.RefineWindow))
	if err != nil {
		return Result{}, fmt.Errorf("list campaigns for sync: %w", err)
	}
	var total Result
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := s.SyncCampaign(ctx, c.ID)
		if err != nil {
			logger.LogError(s.Logger, "statussync", "SyncAll", "sync campaign", map[string]any{"campaign_id": c.ID}, err)
			continue
		}
		total.add(res)
	}
	if total.Settled > 0 || total.Resolved > 0 {
		s.Logger.WithFields(logrus.Fields{
			"module":    "statussync",
			"campaigns": total.Campaigns,
			"checked":   total.Checked,
			"settled":   total.Settled,
			"resolved":  total.Resolved,
		}).Info("delivery status pass finished")
	}
	return total, nil
}

func lockKey(campaignID int) string {
	return fmt.Sprintf("lock:statussync:campaign:%d", campaignID)
}

// SyncCampaign refreshes the provider status of every unsettled recipient
// of one campaign, then recomputes the campaign status.
func (s *Synchronizer) SyncCampaign(ctx context.Context, campaignID int) (Result, error) {
	entry := s.Logger.WithFields(logrus.Fields{"module": "statussync", "campaign_id": campaignID})

	if s.Locker != nil {
		release, err := s.Locker.Obtain(ctx, lockKey(campaignID), s.LockTTL)
		if errors.Is(err, ErrLocked) {
			entry.Debug("campaign sync already running elsewhere, skipped")
			return Result{Locked: 1}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("obtain sync lock: %w", err)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				entry.WithError(err).Debug("release sync lock")
			}
		}()
	}

	c, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return Result{}, err
	}
	recipients, err := s.Recipients.ListUnresolved(ctx, campaignID)
	if err != nil {
		return Result{}, fmt.Errorf("list unresolved recipients: %w", err)
	}

	var checked, settled, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, rec := range recipients {
		rec := rec
		g.Go(func() error {
			ok, terminal, err := s.syncRecipient(gctx, c.TenantID, rec, entry)
			if err != nil {
				failures.Add(1)
				entry.WithError(err).WithField("recipient_id", rec.ID).Warn("delivery status not refreshed")
				return nil
			}
			if ok {
				checked.Add(1)
			}
			if terminal {
				settled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Campaigns: 1, Checked: checked.Load(), Settled: settled.Load(), Errors: failures.Load()}
	status, moved, err := s.Campaigns.RecomputeStatus(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("recompute campaign status: %w", err)
	}
	if moved {
		res.Resolved = 1
		entry.WithField("status", status).Info("campaign resolved")
	}
	return res, nil
}

// syncRecipient reports whether the provider answered and whether the
// recipient reached a final delivery state.
func (s *Synchronizer) syncRecipient(ctx context.Context, tenantID int, rec *model.CampaignRecipient, entry *logrus.Entry) (bool, bool, error) {
	st, err := s.Gateway.Status(ctx, rec.ProviderMessageID)
	if err != nil {
		return false, false, err
	}
	status, known := gateway.MapStatus(st.Status)
	if !known {
		entry.WithFields(logrus.Fields{
			"recipient_id":    rec.ID,
			"provider_status": st.Status,
		}).Warn("unknown provider status, treated as sent")
	}

	terminal, err := s.Recipients.ApplyDeliveryStatus(ctx, repository.DeliveryUpdate{
		RecipientID:    rec.ID,
		CampaignID:     rec.CampaignID,
		Status:         status,
		ProviderStatus: st.Status,
		DeliveredAt:    st.DeliveredAt,
	})
	if err != nil {
		return true, false, err
	}
	if terminal {
		s.logStatus(ctx, tenantID, rec, status)
	}
	return true, terminal, nil
}

// logStatus appends the inbound log row for a settled message. The body is
// taken from the last row logged under the same provider id.
func (s *Synchronizer) logStatus(ctx context.Context, tenantID int, rec *model.CampaignRecipient, status string) {
	campaignID, recipientID := rec.CampaignID, rec.ID
	row := &model.MessageLog{
		TenantID:          tenantID,
		CampaignID:        &campaignID,
		RecipientID:       &recipientID,
		Direction:         model.DirectionInbound,
		Destination:       rec.Destination,
		ProviderMessageID: rec.ProviderMessageID,
		Status:            status,
	}
	previous, err := s.MessageLogs.LatestByProviderID(ctx, rec.ProviderMessageID)
	if err != nil {
		logger.LogError(s.Logger, "statussync", "logStatus", "lookup message log", map[string]any{"recipient_id": rec.ID}, err)
	} else if previous != nil {
		row.Body = previous.Body
	}
	if err := s.MessageLogs.Append(ctx, row); err != nil {
		logger.LogError(s.Logger, "statussync", "logStatus", "append status log", map[string]any{"recipient_id": rec.ID}, err)
	}
}
