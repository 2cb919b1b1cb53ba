package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

type TenantRepositoryInterface interface {
	Create(ctx context.Context, t *model.Tenant) error
	GetByID(ctx context.Context, id int) (*model.Tenant, error)
	ListWithFeed(ctx context.Context) ([]*model.Tenant, error)
}

type TenantRepository struct {
	DB *sql.DB
}

// Create inserts a tenant with a zero balance; credits are granted through the ledger.
func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) error {
	t.Credits = 0
	return r.DB.QueryRowContext(ctx, `
        INSERT INTO tenants (name, sender_id, shop_base_url, shop_token)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`,
		t.Name, t.SenderID, t.ShopBaseURL, t.ShopToken).Scan(&t.ID, &t.CreatedAt)
}

func (r *TenantRepository) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, name, credits, sender_id, shop_base_url, shop_token, created_at
        FROM tenants WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.Credits, &t.SenderID, &t.ShopBaseURL, &t.ShopToken, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, appErrors.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListWithFeed returns tenants connected to an e-commerce event feed.
func (r *TenantRepository) ListWithFeed(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, name, credits, sender_id, shop_base_url, shop_token, created_at
        FROM tenants WHERE shop_base_url <> '' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := []*model.Tenant{}
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Credits, &t.SenderID, &t.ShopBaseURL, &t.ShopToken, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
