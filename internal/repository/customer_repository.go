package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

// CustomerRepositoryInterface defines methods used by the dispatch worker
type CustomerRepositoryInterface interface {
	Create(ctx context.Context, c *model.Customer) error
	GetByID(ctx context.Context, id int) (*model.Customer, error)
	ListAudience(ctx context.Context, tenantID int) ([]model.Customer, error)
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sql.DB
}

func (r *CustomerRepository) Create(ctx context.Context, c *model.Customer) error {
	return r.DB.QueryRowContext(ctx, `
        INSERT INTO customers (tenant_id, phone, first_name, last_name, location, preferred_product, opted_out)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		c.TenantID, c.Phone, c.FirstName, c.LastName, c.Location, c.PreferredProduct, c.OptedOut).Scan(&c.ID)
}

// GetByID fetches a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id int) (*model.Customer, error) {
	query := `
        SELECT id, tenant_id, phone, first_name, last_name, location, preferred_product, opted_out
        FROM customers
        WHERE id = $1
    `
	row := r.DB.QueryRowContext(ctx, query, id)

	var c model.Customer
	if err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct, &c.OptedOut); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

// ListAudience fetches every customer of the tenant that has not opted out
func (r *CustomerRepository) ListAudience(ctx context.Context, tenantID int) ([]model.Customer, error) {
	query := `
        SELECT id, tenant_id, phone, first_name, last_name, location, preferred_product, opted_out
        FROM customers
        WHERE tenant_id = $1 AND opted_out = FALSE
        ORDER BY id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct, &c.OptedOut); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
