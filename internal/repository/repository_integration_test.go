//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unclebandit/smsleopard-delivery/internal/db"
	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// setupDB starts a Postgres container and returns a migrated pool.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("delivery_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	conn, err := db.Connect(ctx, dsn, db.Options{MaxOpenConns: 20, MaxIdleConns: 5, MaxAttempts: 5}, logger.Discard())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedTenant(t *testing.T, conn *sql.DB, credits int) *model.Tenant {
	t.Helper()
	ctx := context.Background()
	tenant := &model.Tenant{Name: "acme", SenderID: "ACME"}
	if err := (&repository.TenantRepository{DB: conn}).Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if credits > 0 {
		if _, err := (&repository.CreditRepository{DB: conn}).Credit(ctx, tenant.ID, credits, model.ReasonTopUp, "seed"); err != nil {
			t.Fatalf("top up: %v", err)
		}
	}
	return tenant
}

func seedCampaign(t *testing.T, conn *sql.DB, tenantID int, status string) *model.Campaign {
	t.Helper()
	at := time.Now().Add(-time.Second)
	c := &model.Campaign{TenantID: tenantID, Name: "promo", Status: status, BaseTemplate: "Hi", ScheduledAt: &at}
	if err := (&repository.CampaignRepository{DB: conn}).Create(context.Background(), c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

// parallel runs fn n times at once and returns the errors in call order.
func parallel(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	conn := setupDB(t)
	credits := &repository.CreditRepository{DB: conn}
	tenant := seedTenant(t, conn, 5)
	ctx := context.Background()

	errs := parallel(10, func(i int) error {
		_, err := credits.Debit(ctx, tenant.ID, 1, model.ReasonCampaignDispatch, fmt.Sprintf("debit:%d", i))
		return err
	})
	ok, short := 0, 0
	for _, err := range errs {
		var insufficient *appErrors.InsufficientCredits
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			short++
		default:
			t.Fatalf("Debit: %v", err)
		}
	}
	if ok != 5 || short != 5 {
		t.Errorf("succeeded = %d, insufficient = %d, want 5/5", ok, short)
	}

	balance, _ := credits.Balance(ctx, tenant.ID)
	sum, _ := credits.LedgerSum(ctx, tenant.ID)
	if balance != 0 || sum != balance {
		t.Errorf("balance = %d, ledger sum = %d, want 0/0", balance, sum)
	}
}

func TestConcurrentDebitsOnlyOneFits(t *testing.T) {
	conn := setupDB(t)
	credits := &repository.CreditRepository{DB: conn}
	tenant := seedTenant(t, conn, 5)
	ctx := context.Background()

	errs := parallel(2, func(i int) error {
		_, err := credits.Debit(ctx, tenant.ID, 5, model.ReasonCampaignDispatch, fmt.Sprintf("campaign:%d:dispatch", i))
		return err
	})
	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("errs = %v, want exactly one success", errs)
	}

	_, err := credits.Debit(ctx, tenant.ID, 1, model.ReasonCampaignDispatch, "campaign:9:dispatch")
	var insufficient *appErrors.InsufficientCredits
	if !errors.As(err, &insufficient) || insufficient.Missing != 1 {
		t.Errorf("err = %v, want InsufficientCredits missing 1", err)
	}
}

func TestDebitReferenceAppliesOnce(t *testing.T) {
	conn := setupDB(t)
	credits := &repository.CreditRepository{DB: conn}
	tenant := seedTenant(t, conn, 5)
	ctx := context.Background()

	errs := parallel(4, func(int) error {
		_, err := credits.Debit(ctx, tenant.ID, 2, model.ReasonCampaignDispatch, "campaign:1:dispatch")
		return err
	})
	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
		} else if !errors.Is(err, appErrors.ErrDuplicate) {
			t.Fatalf("Debit: %v", err)
		}
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if balance, _ := credits.Balance(ctx, tenant.ID); balance != 3 {
		t.Errorf("balance = %d, want 3", balance)
	}
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	conn := setupDB(t)
	campaigns := &repository.CampaignRepository{DB: conn}
	tenant := seedTenant(t, conn, 0)
	c := seedCampaign(t, conn, tenant.ID, model.CampaignScheduled)
	ctx := context.Background()

	errs := parallel(8, func(int) error { return campaigns.ClaimScheduled(ctx, c.ID) })
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if !errors.Is(err, appErrors.ErrClaimConflict) {
			t.Fatalf("ClaimScheduled: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want 1", won)
	}
	got, _ := campaigns.GetByID(ctx, c.ID)
	if got.Status != model.CampaignSending {
		t.Errorf("status = %s, want sending", got.Status)
	}
}

func TestDispatchedCampaignTakesNoNewRecipients(t *testing.T) {
	conn := setupDB(t)
	campaigns := &repository.CampaignRepository{DB: conn}
	recipients := &repository.RecipientRepository{DB: conn}
	tenant := seedTenant(t, conn, 0)
	c := seedCampaign(t, conn, tenant.ID, model.CampaignSending)
	ctx := context.Background()

	added, err := recipients.CreateIfAbsent(ctx, &model.CampaignRecipient{CampaignID: c.ID, CustomerID: 1, Destination: "+254712345678"})
	if err != nil || !added {
		t.Fatalf("CreateIfAbsent = %v, %v", added, err)
	}
	if status, moved, _ := campaigns.RecomputeStatus(ctx, c.ID); status != model.CampaignSending || moved {
		t.Errorf("undispatched recompute = %s, %v; want sending, false", status, moved)
	}

	marked, err := campaigns.MarkDispatched(ctx, c.ID, 1)
	if err != nil || !marked {
		t.Fatalf("MarkDispatched = %v, %v", marked, err)
	}
	if again, _ := campaigns.MarkDispatched(ctx, c.ID, 1); again {
		t.Error("second MarkDispatched should report false")
	}
	added, err = recipients.CreateIfAbsent(ctx, &model.CampaignRecipient{CampaignID: c.ID, CustomerID: 2, Destination: "+254722000111"})
	if err != nil || added {
		t.Errorf("CreateIfAbsent after dispatch = %v, %v; want false", added, err)
	}
	if counts, _ := recipients.CountByCampaign(ctx, c.ID); counts.Total != 1 {
		t.Errorf("recipients = %d, want 1", counts.Total)
	}

	if ok, _ := recipients.MarkFailed(ctx, 0, "x"); ok {
		t.Error("MarkFailed on a missing recipient should report false")
	}
	pending, _ := recipients.ListPending(ctx, c.ID)
	if ok, err := recipients.MarkFailed(ctx, pending[0].ID, "rejected"); err != nil || !ok {
		t.Fatalf("MarkFailed = %v, %v", ok, err)
	}
	if ok, _ := recipients.MarkFailed(ctx, pending[0].ID, "rejected"); ok {
		t.Error("MarkFailed twice should report false")
	}
	status, moved, err := campaigns.RecomputeStatus(ctx, c.ID)
	if err != nil || status != model.CampaignFailed || !moved {
		t.Errorf("RecomputeStatus = %s, %v, %v; want failed, true", status, moved, err)
	}
	got, _ := campaigns.GetByID(ctx, c.ID)
	if got.FailedCount != 1 || got.RecipientCount != 1 || got.DispatchedAt == nil {
		t.Errorf("campaign = %+v", got)
	}
}

func TestSyncListSkipsUndispatchedCampaigns(t *testing.T) {
	conn := setupDB(t)
	campaigns := &repository.CampaignRepository{DB: conn}
	tenant := seedTenant(t, conn, 0)
	waiting := seedCampaign(t, conn, tenant.ID, model.CampaignSending)
	ready := seedCampaign(t, conn, tenant.ID, model.CampaignSending)
	ctx := context.Background()
	if _, err := campaigns.MarkDispatched(ctx, ready.ID, 0); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}

	list, err := campaigns.ListForSync(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListForSync: %v", err)
	}
	if len(list) != 1 || list[0].ID != ready.ID {
		t.Errorf("ListForSync = %+v, want only campaign %d (not %d)", list, ready.ID, waiting.ID)
	}
}

func TestApplyDeliveryStatusNeverRegresses(t *testing.T) {
	conn := setupDB(t)
	campaigns := &repository.CampaignRepository{DB: conn}
	recipients := &repository.RecipientRepository{DB: conn}
	tenant := seedTenant(t, conn, 0)
	c := seedCampaign(t, conn, tenant.ID, model.CampaignSending)
	ctx := context.Background()
	recipients.CreateIfAbsent(ctx, &model.CampaignRecipient{CampaignID: c.ID, CustomerID: 1, Destination: "+254712345678"})
	pending, _ := recipients.ListPending(ctx, c.ID)
	rec := pending[0]
	if ok, err := recipients.MarkSent(ctx, rec.ID, "prov-1", "Queued"); err != nil || !ok {
		t.Fatalf("MarkSent = %v, %v", ok, err)
	}

	errs := parallel(5, func(int) error {
		_, err := recipients.ApplyDeliveryStatus(ctx, repository.DeliveryUpdate{
			RecipientID: rec.ID, CampaignID: c.ID, Status: model.DeliveryDelivered, ProviderStatus: "Delivered",
		})
		return err
	})
	for _, err := range errs {
		if err != nil {
			t.Fatalf("ApplyDeliveryStatus: %v", err)
		}
	}
	moved, err := recipients.ApplyDeliveryStatus(ctx, repository.DeliveryUpdate{
		RecipientID: rec.ID, CampaignID: c.ID, Status: model.DeliveryFailed, ProviderStatus: "Failed",
	})
	if err != nil || moved {
		t.Errorf("failed after delivered = %v, %v; want false", moved, err)
	}

	got, _ := recipients.GetByID(ctx, rec.ID)
	if got.DeliveryStatus != model.DeliveryDelivered {
		t.Errorf("delivery status = %s, want delivered", got.DeliveryStatus)
	}
	camp, _ := campaigns.GetByID(ctx, c.ID)
	if camp.DeliveredCount != 1 || camp.FailedCount != 0 {
		t.Errorf("delivered = %d, failed = %d, want 1/0", camp.DeliveredCount, camp.FailedCount)
	}
}

func TestFallbackClaimIsExclusive(t *testing.T) {
	conn := setupDB(t)
	jobs := &repository.QueueJobRepository{DB: conn}
	ctx := context.Background()
	row := &model.QueueJob{QueueName: "send", JobID: "send:recipient:1", JobName: "send", Payload: []byte(`{}`), MaxAttempts: 5, ScheduledFor: time.Now()}
	if inserted, err := jobs.Insert(ctx, row); err != nil || !inserted {
		t.Fatalf("Insert = %v, %v", inserted, err)
	}
	dup := *row
	if inserted, _ := jobs.Insert(ctx, &dup); inserted {
		t.Error("same job id inserted twice")
	}

	won := 0
	var mu sync.Mutex
	parallel(8, func(int) error {
		ok, err := jobs.Claim(ctx, row.ID)
		if err != nil {
			return err
		}
		if ok {
			mu.Lock()
			won++
			mu.Unlock()
		}
		return nil
	})
	if won != 1 {
		t.Errorf("claims won = %d, want 1", won)
	}

	if ok, err := jobs.Touch(ctx, row.ID); err != nil || !ok {
		t.Errorf("Touch on active = %v, %v", ok, err)
	}
	if n, _ := jobs.ReclaimStale(ctx, time.Now().Add(-time.Minute)); n != 0 {
		t.Errorf("reclaimed fresh lease: %d", n)
	}
	if n, _ := jobs.ReclaimStale(ctx, time.Now().Add(time.Minute)); n != 1 {
		t.Errorf("reclaimed = %d, want 1", n)
	}
	if ok, _ := jobs.Touch(ctx, row.ID); ok {
		t.Error("Touch after reclaim should report false")
	}
}

func TestProcessedEventsInsertBatchSkipsExisting(t *testing.T) {
	conn := setupDB(t)
	processed := &repository.ProcessedEventRepository{DB: conn}
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := func(id string) model.ProcessedEvent {
		return model.ProcessedEvent{EventID: id, TenantID: 1, AutomationType: model.AutomationOrderCreated, OccurredAt: at}
	}

	if n, err := processed.InsertBatch(ctx, []model.ProcessedEvent{ev("e1"), ev("e2")}); err != nil || n != 2 {
		t.Fatalf("InsertBatch = %d, %v", n, err)
	}
	if n, err := processed.InsertBatch(ctx, []model.ProcessedEvent{ev("e2"), ev("e3")}); err != nil || n != 1 {
		t.Errorf("second InsertBatch = %d, %v; want 1", n, err)
	}
	existing, err := processed.ExistingIDs(ctx, 1, model.AutomationOrderCreated, []string{"e1", "e3", "e4"})
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if !existing["e1"] || !existing["e3"] || existing["e4"] {
		t.Errorf("existing = %v", existing)
	}
	mark, err := processed.RecentOccurredAt(ctx, 1, model.AutomationOrderCreated, 50)
	if err != nil || mark == nil || !mark.Equal(at) {
		t.Errorf("RecentOccurredAt = %v, %v; want %v", mark, err, at)
	}
}
