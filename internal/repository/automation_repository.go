package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

type AutomationRepositoryInterface interface {
	ListActive(ctx context.Context, tenantID int) ([]*model.Automation, error)
	Get(ctx context.Context, tenantID int, automationType string) (*model.Automation, error)
	Upsert(ctx context.Context, a *model.Automation) error
}

type AutomationRepository struct {
	DB *sql.DB
}

func (r *AutomationRepository) ListActive(ctx context.Context, tenantID int) ([]*model.Automation, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, tenant_id, type, template, active, created_at
        FROM automations WHERE tenant_id=$1 AND active=TRUE ORDER BY id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	automations := []*model.Automation{}
	for rows.Next() {
		var a model.Automation
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Type, &a.Template, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		automations = append(automations, &a)
	}
	return automations, rows.Err()
}

// Get returns nil, nil when the tenant has no automation of that type.
func (r *AutomationRepository) Get(ctx context.Context, tenantID int, automationType string) (*model.Automation, error) {
	var a model.Automation
	err := r.DB.QueryRowContext(ctx, `
        SELECT id, tenant_id, type, template, active, created_at
        FROM automations WHERE tenant_id=$1 AND type=$2`, tenantID, automationType).
		Scan(&a.ID, &a.TenantID, &a.Type, &a.Template, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert stores the tenant's automation of a type, replacing template and
// active flag when it already exists.
func (r *AutomationRepository) Upsert(ctx context.Context, a *model.Automation) error {
	return r.DB.QueryRowContext(ctx, `
        INSERT INTO automations (tenant_id, type, template, active)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (tenant_id, type) DO UPDATE SET template=EXCLUDED.template, active=EXCLUDED.active
        RETURNING id, created_at`,
		a.TenantID, a.Type, a.Template, a.Active).Scan(&a.ID, &a.CreatedAt)
}

var _ AutomationRepositoryInterface = (*AutomationRepository)(nil)

// ProcessedEventRepositoryInterface is the storage of the event deduplication ledger.
type ProcessedEventRepositoryInterface interface {
	RecentOccurredAt(ctx context.Context, tenantID int, automationType string, limit int) (*time.Time, error)
	ExistingIDs(ctx context.Context, tenantID int, automationType string, eventIDs []string) (map[string]bool, error)
	InsertBatch(ctx context.Context, events []model.ProcessedEvent) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ProcessedEventRepository struct {
	DB *sql.DB
}

// RecentOccurredAt returns the oldest occurred_at among the limit most
// recently processed events of the pair, or nil when there are none.
func (r *ProcessedEventRepository) RecentOccurredAt(ctx context.Context, tenantID int, automationType string, limit int) (*time.Time, error) {
	var oldest sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
        SELECT MIN(occurred_at) FROM (
            SELECT occurred_at FROM processed_events
            WHERE tenant_id=$1 AND automation_type=$2
            ORDER BY processed_at DESC
            LIMIT $3
        ) recent`, tenantID, automationType, limit).Scan(&oldest)
	if err != nil {
		return nil, err
	}
	if !oldest.Valid {
		return nil, nil
	}
	return &oldest.Time, nil
}

func (r *ProcessedEventRepository) ExistingIDs(ctx context.Context, tenantID int, automationType string, eventIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(eventIDs))
	if len(eventIDs) == 0 {
		return existing, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
        SELECT event_id FROM processed_events
        WHERE tenant_id=$1 AND automation_type=$2 AND event_id = ANY($3)`,
		tenantID, automationType, pq.Array(eventIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// InsertBatch writes the events in one statement. Rows that already exist are
// left as they are. Returns how many rows were new.
func (r *ProcessedEventRepository) InsertBatch(ctx context.Context, events []model.ProcessedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ids := make([]string, len(events))
	tenants := make([]int64, len(events))
	types := make([]string, len(events))
	occurred := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
		tenants[i] = int64(e.TenantID)
		types[i] = e.AutomationType
		occurred[i] = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := r.DB.ExecContext(ctx, `
        INSERT INTO processed_events (event_id, tenant_id, automation_type, occurred_at)
        SELECT * FROM UNNEST($1::text[], $2::int[], $3::text[], $4::timestamptz[])
        ON CONFLICT (event_id, tenant_id, automation_type) DO NOTHING`,
		pq.Array(ids), pq.Array(tenants), pq.Array(types), pq.Array(occurred))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ProcessedEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ ProcessedEventRepositoryInterface = (*ProcessedEventRepository)(nil)
