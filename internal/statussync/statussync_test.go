package statussync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/gateway"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
	"github.com/unclebandit/smsleopard-delivery/internal/repository/memrepo"
)

// MockStatusGateway answers from a map of provider id to raw status.
type MockStatusGateway struct {
	mu       sync.Mutex
	statuses map[string]string
	calls    int
}

func (g *MockStatusGateway) set(id, status string) {
	g.mu.Lock()
	g.statuses[id] = status
	g.mu.Unlock()
}

func (g *MockStatusGateway) Status(ctx context.Context, id string) (gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	st, ok := g.statuses[id]
	if !ok {
		return gateway.StatusResult{}, &appErrors.TransientGatewayError{Op: "status", StatusCode: 503, Err: errors.New("unavailable")}
	}
	return gateway.StatusResult{Status: st}, nil
}

// MockLocker refuses every key in held.
type MockLocker struct {
	held     map[string]bool
	released int
}

func (l *MockLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.held[key] {
		return nil, ErrLocked
	}
	return func(context.Context) error { l.released++; return nil }, nil
}

func setup(t *testing.T, statuses map[string]string, ids ...string) (*memrepo.Store, *model.Campaign, *MockStatusGateway, *Synchronizer) {
	t.Helper()
	store := memrepo.New()
	tenant := store.AddTenant(model.Tenant{Name: "acme", Credits: 10})
	dispatchedAt := time.Now().Add(-time.Minute)
	c := store.AddCampaign(model.Campaign{TenantID: tenant.ID, Name: "promo", Status: model.CampaignSending, DispatchedAt: &dispatchedAt})
	for i, id := range ids {
		store.AddRecipient(model.CampaignRecipient{
			CampaignID:        c.ID,
			CustomerID:        i + 1,
			Destination:       "+25471234567" + string(rune('0'+i)),
			Status:            model.RecipientSent,
			ProviderMessageID: id,
			DeliveryStatus:    model.DeliverySent,
		})
	}
	gw := &MockStatusGateway{statuses: statuses}
	s := &Synchronizer{
		Campaigns:    store.Campaigns,
		Recipients:   store.Recipients,
		MessageLogs:  store.MessageLogs,
		Gateway:      gw,
		Concurrency:  2,
		RefineWindow: time.Hour,
		LockTTL:      time.Minute,
		Logger:       logger.Discard(),
	}
	return store, c, gw, s
}

func inbound(store *memrepo.Store) int {
	n := 0
	for _, l := range store.Logs() {
		if l.Direction == model.DirectionInbound {
			n++
		}
	}
	return n
}

func TestMixedOutcomesResolveCampaignAsSent(t *testing.T) {
	store, c, _, s := setup(t,
		map[string]string{"p1": "Queued", "p2": "Sent", "p3": "Delivered", "p4": "Failed"},
		"p1", "p2", "p3", "p4")

	res, err := s.SyncCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if res.Checked != 4 || res.Settled != 2 || res.Resolved != 1 {
		t.Errorf("result = %+v", res)
	}
	got := store.Campaign(c.ID)
	if got.Status != model.CampaignSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if got.DeliveredCount != 1 || got.FailedCount != 1 {
		t.Errorf("delivered=%d failed=%d, want 1/1", got.DeliveredCount, got.FailedCount)
	}
	if n := inbound(store); n != 2 {
		t.Errorf("inbound logs = %d, want 2", n)
	}
}

func TestRerunOnResolvedCampaignIsNoop(t *testing.T) {
	store, c, gw, s := setup(t,
		map[string]string{"p1": "Queued", "p2": "Sent", "p3": "Delivered", "p4": "Failed"},
		"p1", "p2", "p3", "p4")
	ctx := context.Background()
	if _, err := s.SyncCampaign(ctx, c.ID); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	before := store.Campaign(c.ID)

	res, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if res.Settled != 0 || res.Resolved != 0 {
		t.Errorf("rerun result = %+v", res)
	}
	after := store.Campaign(c.ID)
	if after.Status != before.Status || after.DeliveredCount != before.DeliveredCount || after.FailedCount != before.FailedCount {
		t.Errorf("campaign changed on rerun: %+v -> %+v", before, after)
	}
	if n := inbound(store); n != 2 {
		t.Errorf("inbound logs = %d, want 2", n)
	}
	// only the two still-unsettled messages are asked about again
	if gw.calls != 6 {
		t.Errorf("gateway calls = %d, want 6", gw.calls)
	}
}

func TestDeliveredNeverReverts(t *testing.T) {
	store, c, gw, s := setup(t, map[string]string{"p1": "Delivered"}, "p1")
	ctx := context.Background()
	if _, err := s.SyncCampaign(ctx, c.ID); err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	rec := store.RecipientsOf(c.ID)[0]

	gw.set("p1", "Failed")
	if _, err := s.SyncCampaign(ctx, c.ID); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	moved, err := store.Recipients.ApplyDeliveryStatus(ctx, repository.DeliveryUpdate{
		RecipientID: rec.ID, CampaignID: c.ID, Status: model.DeliveryFailed, ProviderStatus: "Failed",
	})
	if err != nil || moved {
		t.Fatalf("ApplyDeliveryStatus on delivered = %v, %v", moved, err)
	}
	got := store.Recipient(rec.ID)
	if got.DeliveryStatus != model.DeliveryDelivered {
		t.Errorf("delivery status = %s, want delivered", got.DeliveryStatus)
	}
	if store.Campaign(c.ID).FailedCount != 0 {
		t.Error("failed_count must not move for a delivered recipient")
	}
}

func TestPendingRecipientKeepsCampaignSending(t *testing.T) {
	store, c, _, s := setup(t, map[string]string{"p1": "Delivered"}, "p1")
	store.AddRecipient(model.CampaignRecipient{CampaignID: c.ID, Destination: "+254700000001", Status: model.RecipientPending})

	res, err := s.SyncCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if res.Resolved != 0 || store.Campaign(c.ID).Status != model.CampaignSending {
		t.Errorf("campaign should stay sending, result %+v", res)
	}
}

func TestGatewayErrorSkipsOnlyThatRecipient(t *testing.T) {
	store, c, _, s := setup(t, map[string]string{"p1": "Delivered"}, "p1", "p2")

	res, err := s.SyncCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if res.Errors != 1 || res.Settled != 1 {
		t.Errorf("result = %+v", res)
	}
	for _, rec := range store.RecipientsOf(c.ID) {
		want := model.DeliverySent
		if rec.ProviderMessageID == "p1" {
			want = model.DeliveryDelivered
		}
		if rec.DeliveryStatus != want {
			t.Errorf("%s delivery status = %s, want %s", rec.ProviderMessageID, rec.DeliveryStatus, want)
		}
	}
}

func TestUnknownStatusIsTreatedAsSent(t *testing.T) {
	store, c, _, s := setup(t, map[string]string{"p1": "Teleported"}, "p1")
	if _, err := s.SyncCampaign(context.Background(), c.ID); err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	got := store.RecipientsOf(c.ID)[0]
	if got.DeliveryStatus != model.DeliverySent || got.ProviderStatus != "Teleported" {
		t.Errorf("recipient = %+v", got)
	}
}

func TestLockedCampaignIsSkipped(t *testing.T) {
	_, c, gw, s := setup(t, map[string]string{"p1": "Delivered"}, "p1")
	locker := &MockLocker{held: map[string]bool{lockKey(c.ID): true}}
	s.Locker = locker

	res, err := s.SyncCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if res.Locked != 1 || gw.calls != 0 {
		t.Errorf("result = %+v, gateway calls = %d", res, gw.calls)
	}

	locker.held = nil
	if _, err := s.SyncCampaign(context.Background(), c.ID); err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if locker.released != 1 {
		t.Errorf("released = %d, want 1", locker.released)
	}
}

func TestInboundLogCarriesOutboundBody(t *testing.T) {
	store, c, _, s := setup(t, map[string]string{"p1": "Delivered"}, "p1")
	ctx := context.Background()
	store.MessageLogs.Append(ctx, &model.MessageLog{
		TenantID: c.TenantID, Direction: model.DirectionOutbound, Destination: "+254712345670",
		Body: "Hi Alice!", ProviderMessageID: "p1", Status: "sent",
	})

	if _, err := s.SyncCampaign(ctx, c.ID); err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	logs := store.Logs()
	last := logs[len(logs)-1]
	if last.Direction != model.DirectionInbound || last.Body != "Hi Alice!" || last.Status != model.DeliveryDelivered {
		t.Errorf("inbound log = %+v", last)
	}
}

func TestUndispatchedCampaignIsNotResolved(t *testing.T) {
	store := memrepo.New()
	tenant := store.AddTenant(model.Tenant{Name: "acme", Credits: 10})
	c := store.AddCampaign(model.Campaign{TenantID: tenant.ID, Name: "promo", Status: model.CampaignSending})
	s := &Synchronizer{
		Campaigns:   store.Campaigns,
		Recipients:  store.Recipients,
		MessageLogs: store.MessageLogs,
		Gateway:     &MockStatusGateway{statuses: map[string]string{}},
		Logger:      logger.Discard(),
	}
	ctx := context.Background()

	res, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if res.Campaigns != 0 {
		t.Errorf("SyncAll visited %d campaigns, want 0", res.Campaigns)
	}
	if _, err := s.SyncCampaign(ctx, c.ID); err != nil {
		t.Fatalf("SyncCampaign: %v", err)
	}
	if got := store.Campaign(c.ID).Status; got != model.CampaignSending {
		t.Errorf("status = %s, want sending until dispatch runs", got)
	}
}
