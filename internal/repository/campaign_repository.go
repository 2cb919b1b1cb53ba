package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)

	// Scheduler
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	ClaimScheduled(ctx context.Context, id int) error
	RevertClaim(ctx context.Context, id int) error
	Cancel(ctx context.Context, id int) error

	// Worker / synchronizer
	MarkDispatched(ctx context.Context, id, recipientCount int) (bool, error)
	MarkFailed(ctx context.Context, id int, reason string) (bool, error)
	ListForSync(ctx context.Context, refineSince time.Time) ([]*model.Campaign, error)
	RecomputeStatus(ctx context.Context, id int) (string, bool, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, channel, status, base_template, scheduled_at,
        recipient_count, delivered_count, failed_count, failure_reason, dispatched_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status, &c.BaseTemplate, &c.ScheduledAt,
		&c.RecipientCount, &c.DeliveredCount, &c.FailedCount, &c.FailureReason, &c.DispatchedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.Channel == "" {
		c.Channel = "sms"
	}
	query := `
        INSERT INTO campaigns (tenant_id, name, channel, status, base_template, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.TenantID, c.Name, c.Channel, c.Status, c.BaseTemplate, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// ====================== Scheduler claims ======================

// ListDue returns scheduled campaigns whose time has come, oldest first.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at ASC
        LIMIT $3`
	return r.list(ctx, query, model.CampaignScheduled, now, limit)
}

// ClaimScheduled moves a campaign from scheduled to sending. The row is
// re-read under lock; if another instance already moved it the claim is lost
// and ErrClaimConflict is returned.
func (r *CampaignRepository) ClaimScheduled(ctx context.Context, id int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return err
	}
	if status != model.CampaignScheduled {
		return appErrors.ErrClaimConflict
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		model.CampaignSending, id, model.CampaignScheduled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.ErrClaimConflict
	}
	return tx.Commit()
}

// RevertClaim hands a claimed campaign back to the next scheduler pass.
func (r *CampaignRepository) RevertClaim(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		model.CampaignScheduled, id, model.CampaignSending)
	return err
}

func (r *CampaignRepository) Cancel(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status IN ($3, $4)`,
		model.CampaignCancelled, id, model.CampaignDraft, model.CampaignScheduled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return appErrors.ErrNotCancellable
	}
	return nil
}

// ====================== Delivery ======================

// MarkDispatched freezes the recipient set of a sending campaign. It takes
// the row lock that CreateIfAbsent shares, so no recipient can be added
// once it commits. Returns false when the campaign was already dispatched
// or left sending.
func (r *CampaignRepository) MarkDispatched(ctx context.Context, id, recipientCount int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns SET dispatched_at=NOW(), recipient_count=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3 AND dispatched_at IS NULL`,
		recipientCount, id, model.CampaignSending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed fails a campaign that is still sending. Returns false when the
// campaign had already left sending.
func (r *CampaignRepository) MarkFailed(ctx context.Context, id int, reason string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, failure_reason=$2, updated_at=NOW() WHERE id=$3 AND status=$4`,
		model.CampaignFailed, reason, id, model.CampaignSending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListForSync returns dispatched campaigns still sending plus recently sent
// campaigns that have recipients without a final provider status. A claimed
// campaign waiting for its dispatch job is left alone.
func (r *CampaignRepository) ListForSync(ctx context.Context, refineSince time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns c
        WHERE (c.status=$1 AND c.dispatched_at IS NOT NULL)
           OR (c.status=$2 AND c.updated_at >= $3 AND EXISTS (
                SELECT 1 FROM campaign_recipients cr
                WHERE cr.campaign_id = c.id
                  AND cr.status = 'sent'
                  AND cr.provider_message_id <> ''
                  AND cr.delivery_status NOT IN ('delivered', 'failed')))
        ORDER BY c.id ASC`
	return r.list(ctx, query, model.CampaignSending, model.CampaignSent, refineSince)
}

// RecomputeStatus derives the campaign status from its recipients. Only a
// dispatched campaign that is still sending is moved; calling it again is a
// no-op. An undispatched campaign reports sending.
func (r *CampaignRepository) RecomputeStatus(ctx context.Context, id int) (string, bool, error) {
	var dispatched bool
	var counts model.RecipientCounts
	err := r.DB.QueryRowContext(ctx, `
        SELECT c.dispatched_at IS NOT NULL,
               COUNT(cr.id),
               COUNT(cr.id) FILTER (WHERE cr.status='pending'),
               COUNT(cr.id) FILTER (WHERE cr.status='failed' OR cr.delivery_status='failed')
        FROM campaigns c
        LEFT JOIN campaign_recipients cr ON cr.campaign_id = c.id
        WHERE c.id=$1
        GROUP BY c.id`, id).Scan(&dispatched, &counts.Total, &counts.Pending, &counts.Failed)
	if err == sql.ErrNoRows {
		return "", false, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return "", false, err
	}
	if !dispatched {
		return model.CampaignSending, false, nil
	}

	next := model.DeriveCampaignStatus(counts)
	if next == model.CampaignSending {
		return next, false, nil
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status=$3 AND dispatched_at IS NOT NULL`,
		next, id, model.CampaignSending)
	if err != nil {
		return "", false, err
	}
	n, _ := res.RowsAffected()
	return next, n == 1, nil
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
