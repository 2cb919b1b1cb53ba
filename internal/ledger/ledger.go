// Package ledger owns every change to a tenant's credit balance.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// Balance is the outcome of a ledger mutation.
type Balance struct {
	Remaining int
	// Replayed is true when the reference had already been applied and
	// nothing changed.
	Replayed bool
}

// Preview answers "could this tenant send count messages right now". It is
// not a reservation and may be stale by the time a send happens.
type Preview struct {
	Sufficient bool
	Available  int
	Missing    int
}

type Ledger struct {
	Repo   repository.CreditRepositoryInterface
	Logger *logrus.Logger
}

func New(repo repository.CreditRepositoryInterface, logger *logrus.Logger) *Ledger {
	return &Ledger{Repo: repo, Logger: logger}
}

// Consume debits count credits atomically. It fails with
// *appErrors.InsufficientCredits when the balance is short; nothing is
// debited in that case. A non-empty reference makes the call idempotent.
func (l *Ledger) Consume(ctx context.Context, tenantID, count int, reason, reference string) (Balance, error) {
	if count <= 0 {
		return Balance{}, fmt.Errorf("consume: count must be positive, got %d", count)
	}
	remaining, err := l.Repo.Debit(ctx, tenantID, count, reason, reference)
	if errors.Is(err, appErrors.ErrDuplicate) {
		return Balance{Remaining: remaining, Replayed: true}, nil
	}
	if err != nil {
		var insufficient *appErrors.InsufficientCredits
		if errors.As(err, &insufficient) {
			l.Logger.WithFields(logrus.Fields{
				"module":    "ledger",
				"tenant_id": tenantID,
				"required":  count,
				"missing":   insufficient.Missing,
			}).Warn("insufficient credits")
			return Balance{Remaining: insufficient.Available}, err
		}
		return Balance{}, fmt.Errorf("consume credits: %w", err)
	}

	l.Logger.WithFields(logrus.Fields{
		"module":    "ledger",
		"tenant_id": tenantID,
		"delta":     -count,
		"remaining": remaining,
		"reason":    reason,
		"reference": reference,
	}).Info("credits consumed")
	return Balance{Remaining: remaining}, nil
}

// Refund returns count credits, undoing an earlier debit.
func (l *Ledger) Refund(ctx context.Context, tenantID, count int, reason, reference string) (Balance, error) {
	return l.credit(ctx, tenantID, count, reason, reference, "credits refunded")
}

// TopUp grants purchased credits.
func (l *Ledger) TopUp(ctx context.Context, tenantID, count int, reference string) (Balance, error) {
	return l.credit(ctx, tenantID, count, model.ReasonTopUp, reference, "credits topped up")
}

func (l *Ledger) credit(ctx context.Context, tenantID, count int, reason, reference, msg string) (Balance, error) {
	if count <= 0 {
		return Balance{}, fmt.Errorf("credit: count must be positive, got %d", count)
	}
	remaining, err := l.Repo.Credit(ctx, tenantID, count, reason, reference)
	if errors.Is(err, appErrors.ErrDuplicate) {
		return Balance{Remaining: remaining, Replayed: true}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("credit credits: %w", err)
	}
	l.Logger.WithFields(logrus.Fields{
		"module":    "ledger",
		"tenant_id": tenantID,
		"delta":     count,
		"remaining": remaining,
		"reason":    reason,
		"reference": reference,
	}).Info(msg)
	return Balance{Remaining: remaining}, nil
}

// CheckOnly is a read-only preview for UI paths. Never gate a send on it.
func (l *Ledger) CheckOnly(ctx context.Context, tenantID, count int) (Preview, error) {
	balance, err := l.Repo.Balance(ctx, tenantID)
	if err != nil {
		return Preview{}, err
	}
	p := Preview{Sufficient: balance >= count, Available: balance}
	if !p.Sufficient {
		p.Missing = count - balance
	}
	return p, nil
}

// Drift is the difference between the stored balance and the ledger sum.
type Drift struct {
	Balance   int
	LedgerSum int
}

func (d Drift) Consistent() bool { return d.Balance == d.LedgerSum }

// Verify compares the tenant balance with the sum of its ledger entries.
func (l *Ledger) Verify(ctx context.Context, tenantID int) (Drift, error) {
	balance, err := l.Repo.Balance(ctx, tenantID)
	if err != nil {
		return Drift{}, err
	}
	sum, err := l.Repo.LedgerSum(ctx, tenantID)
	if err != nil {
		return Drift{}, err
	}
	d := Drift{Balance: balance, LedgerSum: sum}
	if !d.Consistent() {
		l.Logger.WithFields(logrus.Fields{
			"module":     "ledger",
			"tenant_id":  tenantID,
			"balance":    balance,
			"ledger_sum": sum,
		}).Error("ledger drift detected")
	}
	return d, nil
}
