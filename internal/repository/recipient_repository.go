package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

type RecipientRepositoryInterface interface {
	CreateIfAbsent(ctx context.Context, r *model.CampaignRecipient) (bool, error)
	GetByID(ctx context.Context, id int) (*model.CampaignRecipient, error)
	ListPending(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error)
	ListUnresolved(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error)
	CountByCampaign(ctx context.Context, campaignID int) (model.RecipientCounts, error)

	MarkSent(ctx context.Context, id int, providerMessageID, providerStatus string) (bool, error)
	MarkFailed(ctx context.Context, id int, lastError string) (bool, error)
	RecordAttempt(ctx context.Context, id int, lastError string) error
	ApplyDeliveryStatus(ctx context.Context, u DeliveryUpdate) (bool, error)
}

// DeliveryUpdate is one provider status observation for a recipient.
type DeliveryUpdate struct {
	RecipientID    int
	CampaignID     int
	Status         string // sent, delivered, failed
	ProviderStatus string
	DeliveredAt    *time.Time
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, customer_id, destination, rendered_content, status,
        provider_message_id, delivery_status, provider_status, last_error, attempts,
        delivered_at, created_at, updated_at`

func scanRecipient(row interface{ Scan(...any) error }) (*model.CampaignRecipient, error) {
	var r model.CampaignRecipient
	err := row.Scan(&r.ID, &r.CampaignID, &r.CustomerID, &r.Destination, &r.RenderedContent, &r.Status,
		&r.ProviderMessageID, &r.DeliveryStatus, &r.ProviderStatus, &r.LastError, &r.Attempts,
		&r.DeliveredAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateIfAbsent inserts a pending recipient. Re-expanding a campaign keeps the
// existing row for the same destination. Nothing is inserted once the
// campaign is dispatched; the share lock on the campaign row makes a
// concurrent MarkDispatched wait for this insert or win before it.
// Returns whether a row was added.
func (r *RecipientRepository) CreateIfAbsent(ctx context.Context, rec *model.CampaignRecipient) (bool, error) {
	query := `
        INSERT INTO campaign_recipients (campaign_id, customer_id, destination, rendered_content, status)
        SELECT c.id, $2, $3, $4, 'pending'
        FROM campaigns c
        WHERE c.id=$1 AND c.dispatched_at IS NULL
        FOR SHARE OF c
        ON CONFLICT (campaign_id, destination) DO NOTHING`
	res, err := r.DB.ExecContext(ctx, query, rec.CampaignID, rec.CustomerID, rec.Destination, rec.RenderedContent)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetByID returns nil, nil when the recipient does not exist.
func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.CampaignRecipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE id=$1`
	rec, err := scanRecipient(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *RecipientRepository) ListPending(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	query := `SELECT ` + recipientColumns + `
        FROM campaign_recipients
        WHERE campaign_id=$1 AND status='pending'
        ORDER BY id ASC`
	return r.list(ctx, query, campaignID)
}

// ListUnresolved returns sent recipients the provider has not finalised yet.
func (r *RecipientRepository) ListUnresolved(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	query := `SELECT ` + recipientColumns + `
        FROM campaign_recipients
        WHERE campaign_id=$1
          AND status='sent'
          AND provider_message_id <> ''
          AND delivery_status NOT IN ('delivered', 'failed')
        ORDER BY id ASC`
	return r.list(ctx, query, campaignID)
}

func (r *RecipientRepository) CountByCampaign(ctx context.Context, campaignID int) (model.RecipientCounts, error) {
	var c model.RecipientCounts
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status='pending'),
               COUNT(*) FILTER (WHERE status='failed' OR delivery_status='failed')
        FROM campaign_recipients WHERE campaign_id=$1`, campaignID).Scan(&c.Total, &c.Pending, &c.Failed)
	return c, err
}

// MarkSent records the gateway acceptance. Only a pending recipient moves.
func (r *RecipientRepository) MarkSent(ctx context.Context, id int, providerMessageID, providerStatus string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_recipients
        SET status='sent', provider_message_id=$1, provider_status=$2, delivery_status=$3,
            last_error='', attempts=attempts+1, updated_at=NOW()
        WHERE id=$4 AND status='pending'`,
		providerMessageID, providerStatus, model.DeliverySent, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed gives up on a pending recipient and counts it against the
// campaign in the same statement.
func (r *RecipientRepository) MarkFailed(ctx context.Context, id int, lastError string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        WITH failed AS (
            UPDATE campaign_recipients
            SET status='failed', last_error=$1, attempts=attempts+1, updated_at=NOW()
            WHERE id=$2 AND status='pending'
            RETURNING campaign_id
        )
        UPDATE campaigns SET failed_count=failed_count+1, updated_at=NOW()
        FROM failed WHERE campaigns.id = failed.campaign_id`, lastError, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *RecipientRepository) RecordAttempt(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE campaign_recipients SET attempts=attempts+1, last_error=$1, updated_at=NOW()
        WHERE id=$2 AND status='pending'`, lastError, id)
	return err
}

// ApplyDeliveryStatus refines a recipient's provider status. A recipient that
// already reached delivered or failed is left untouched. When the update moves
// the recipient from a non-terminal to a terminal state, the matching campaign
// counter is incremented in the same transaction, so overlapping polls count
// each recipient once. Returns whether a terminal transition happened.
func (r *RecipientRepository) ApplyDeliveryStatus(ctx context.Context, u DeliveryUpdate) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx,
		`SELECT delivery_status FROM campaign_recipients WHERE id=$1 FOR UPDATE`, u.RecipientID).Scan(&previous)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if model.IsDeliveryTerminal(previous) {
		return false, nil
	}
	if previous == u.Status && !model.IsDeliveryTerminal(u.Status) {
		// Same non-terminal state; nothing to persist beyond the raw value.
		_, err = tx.ExecContext(ctx,
			`UPDATE campaign_recipients SET provider_status=$1 WHERE id=$2 AND provider_status<>$1`,
			u.ProviderStatus, u.RecipientID)
		if err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE campaign_recipients
        SET delivery_status=$1, provider_status=$2, delivered_at=COALESCE($3, delivered_at), updated_at=NOW()
        WHERE id=$4 AND delivery_status NOT IN ('delivered', 'failed')`,
		u.Status, u.ProviderStatus, u.DeliveredAt, u.RecipientID)
	if err != nil {
		return false, err
	}

	transitioned := model.IsDeliveryTerminal(u.Status)
	switch u.Status {
	case model.DeliveryDelivered:
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET delivered_count=delivered_count+1, updated_at=NOW() WHERE id=$1`, u.CampaignID)
	case model.DeliveryFailed:
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET failed_count=failed_count+1, updated_at=NOW() WHERE id=$1`, u.CampaignID)
	}
	if err != nil {
		return false, err
	}
	return transitioned, tx.Commit()
}

func (r *RecipientRepository) list(ctx context.Context, query string, args ...any) ([]*model.CampaignRecipient, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.CampaignRecipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
