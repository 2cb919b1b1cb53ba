package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
)

// CreditRepositoryInterface is the storage side of the credit ledger. Every
// balance change appends a ledger entry in the same transaction.
type CreditRepositoryInterface interface {
	Debit(ctx context.Context, tenantID, count int, reason, reference string) (int, error)
	Credit(ctx context.Context, tenantID, count int, reason, reference string) (int, error)
	Balance(ctx context.Context, tenantID int) (int, error)
	LedgerSum(ctx context.Context, tenantID int) (int, error)
}

type CreditRepository struct {
	DB *sql.DB
}

// Debit removes count credits. The tenant row is locked first, so concurrent
// debits are serialised and none can push the balance below zero. A reference
// that was already applied returns the current balance and ErrDuplicate.
func (r *CreditRepository) Debit(ctx context.Context, tenantID, count int, reason, reference string) (int, error) {
	return r.apply(ctx, tenantID, -count, reason, reference)
}

// Credit adds count credits (refunds and top-ups).
func (r *CreditRepository) Credit(ctx context.Context, tenantID, count int, reason, reference string) (int, error) {
	return r.apply(ctx, tenantID, count, reason, reference)
}

func (r *CreditRepository) apply(ctx context.Context, tenantID, delta int, reason, reference string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT credits FROM tenants WHERE id=$1 FOR UPDATE`, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, appErrors.ErrTenantNotFound
	}
	if err != nil {
		return 0, err
	}

	if reference != "" {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE tenant_id=$1 AND reference=$2)`,
			tenantID, reference).Scan(&exists)
		if err != nil {
			return 0, err
		}
		if exists {
			return balance, appErrors.ErrDuplicate
		}
	}

	if balance+delta < 0 {
		return balance, appErrors.NewInsufficientCredits(tenantID, -delta, balance)
	}

	var remaining int
	err = tx.QueryRowContext(ctx,
		`UPDATE tenants SET credits = credits + $1 WHERE id=$2 AND credits + $1 >= 0 RETURNING credits`,
		delta, tenantID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return balance, appErrors.NewInsufficientCredits(tenantID, -delta, balance)
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO ledger_entries (tenant_id, delta, balance_after, reason, reference)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		tenantID, delta, remaining, reason, reference)
	if err != nil {
		if isUniqueViolation(err) {
			return balance, appErrors.ErrDuplicate
		}
		return 0, err
	}
	return remaining, tx.Commit()
}

func (r *CreditRepository) Balance(ctx context.Context, tenantID int) (int, error) {
	var balance int
	err := r.DB.QueryRowContext(ctx, `SELECT credits FROM tenants WHERE id=$1`, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, appErrors.ErrTenantNotFound
	}
	return balance, err
}

func (r *CreditRepository) LedgerSum(ctx context.Context, tenantID int) (int, error) {
	var sum int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE tenant_id=$1`, tenantID).Scan(&sum)
	return sum, err
}

var _ CreditRepositoryInterface = (*CreditRepository)(nil)
