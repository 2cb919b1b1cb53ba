package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

type MessageLogRepositoryInterface interface {
	Append(ctx context.Context, l *model.MessageLog) error
	LatestByProviderID(ctx context.Context, providerMessageID string) (*model.MessageLog, error)
}

// MessageLogRepository only ever inserts; rows are an audit trail.
type MessageLogRepository struct {
	DB *sql.DB
}

func (r *MessageLogRepository) Append(ctx context.Context, l *model.MessageLog) error {
	query := `
        INSERT INTO message_logs
        (tenant_id, campaign_id, recipient_id, direction, destination, body, provider_message_id, status, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id, created_at
    `
	return r.DB.QueryRowContext(ctx, query,
		l.TenantID, l.CampaignID, l.RecipientID, l.Direction, l.Destination, l.Body,
		l.ProviderMessageID, l.Status, l.Error,
	).Scan(&l.ID, &l.CreatedAt)
}

// LatestByProviderID returns nil, nil when nothing was logged for the id.
func (r *MessageLogRepository) LatestByProviderID(ctx context.Context, providerMessageID string) (*model.MessageLog, error) {
	var l model.MessageLog
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, tenant_id, campaign_id, recipient_id, direction, destination, body,
               provider_message_id, status, error, created_at
        FROM message_logs
        WHERE provider_message_id=$1
        ORDER BY id DESC
        LIMIT 1`, providerMessageID).
		Scan(&l.ID, &l.TenantID, &l.CampaignID, &l.RecipientID, &l.Direction, &l.Destination, &l.Body,
			&l.ProviderMessageID, &l.Status, &l.Error, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

var _ MessageLogRepositoryInterface = (*MessageLogRepository)(nil)
