package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/smsleopard-delivery/internal/delivery"
	"github.com/unclebandit/smsleopard-delivery/internal/feed"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
	"github.com/unclebandit/smsleopard-delivery/internal/repository/memrepo"
)

// MockFeed serves fixed pages and records the since of every call.
type MockFeed struct {
	mu     sync.Mutex
	pages  map[int]feed.EventPage
	sinces []time.Time
}

func (f *MockFeed) Events(ctx context.Context, conn feed.Connection, since time.Time, page int) (feed.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	return f.pages[page], nil
}

// MockEnqueuer records adds and can fail after a number of them.
type MockEnqueuer struct {
	adds    int
	failAt  int
	payload map[string]delivery.AutomationPayload
}

func (m *MockEnqueuer) Add(ctx context.Context, queueName, jobName string, payload any, opts queue.AddOptions) (queue.JobHandle, error) {
	m.adds++
	if m.failAt > 0 && m.adds == m.failAt {
		return queue.JobHandle{}, errors.New("queue unavailable")
	}
	if m.payload == nil {
		m.payload = map[string]delivery.AutomationPayload{}
	}
	_, dup := m.payload[opts.JobID]
	m.payload[opts.JobID] = payload.(delivery.AutomationPayload)
	return queue.JobHandle{ID: opts.JobID, Queue: queueName, Duplicate: dup}, nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPoller(store *memrepo.Store, f *MockFeed, q *MockEnqueuer) *Poller {
	return &Poller{
		Tenants:     store.Tenants,
		Automations: store.Automations,
		Processed:   store.Processed,
		Feed:        f,
		Queue:       q,
		Window:      Window{Sample: 50, DefaultLookBack: time.Hour, MaxLookBack: 24 * time.Hour},
		MaxPages:    5,
		Retention:   7 * 24 * time.Hour,
		Logger:      logger.Discard(),
		now:         func() time.Time { return base },
	}
}

func event(id, subjectType, action string, ago time.Duration) feed.Event {
	return feed.Event{ID: id, SubjectType: subjectType, SubjectID: "s-" + id, Action: action, OccurredAt: base.Add(-ago)}
}

func TestLowWaterMark(t *testing.T) {
	store := memrepo.New()
	w := Window{Sample: 2, DefaultLookBack: time.Hour, MaxLookBack: 24 * time.Hour}
	ctx := context.Background()

	got, err := LowWaterMark(ctx, store.Processed, w, 1, model.AutomationOrderCreated, base)
	if err != nil || !got.Equal(base.Add(-time.Hour)) {
		t.Fatalf("empty history = %v, %v; want now-1h", got, err)
	}

	store.Processed.InsertBatch(ctx, []model.ProcessedEvent{
		{EventID: "old", TenantID: 1, AutomationType: model.AutomationOrderCreated, OccurredAt: base.Add(-48 * time.Hour), ProcessedAt: base.Add(-3 * time.Hour)},
		{EventID: "a", TenantID: 1, AutomationType: model.AutomationOrderCreated, OccurredAt: base.Add(-30 * time.Minute), ProcessedAt: base.Add(-2 * time.Hour)},
		{EventID: "b", TenantID: 1, AutomationType: model.AutomationOrderCreated, OccurredAt: base.Add(-10 * time.Minute), ProcessedAt: base.Add(-time.Hour)},
	})
	got, _ = LowWaterMark(ctx, store.Processed, w, 1, model.AutomationOrderCreated, base)
	if !got.Equal(base.Add(-30 * time.Minute)) {
		t.Errorf("mark over the 2 most recent = %v, want now-30m", got)
	}

	w.Sample = 3
	got, _ = LowWaterMark(ctx, store.Processed, w, 1, model.AutomationOrderCreated, base)
	if !got.Equal(base.Add(-24 * time.Hour)) {
		t.Errorf("mark = %v, want clamp at now-24h", got)
	}
}

func seedShop(store *memrepo.Store) *model.Tenant {
	tenant := store.AddTenant(model.Tenant{Name: "shop", ShopBaseURL: "http://shop.test", ShopToken: "tok"})
	store.AddTenant(model.Tenant{Name: "no-feed"})
	store.AddAutomation(model.Automation{TenantID: tenant.ID, Type: model.AutomationOrderCreated, Template: "Thanks", Active: true})
	store.AddAutomation(model.Automation{TenantID: tenant.ID, Type: model.AutomationCustomerCreated, Template: "Welcome", Active: false})
	return tenant
}

func TestRunOnceQueuesMatchingEventsOnce(t *testing.T) {
	store := memrepo.New()
	tenant := seedShop(store)
	f := &MockFeed{pages: map[int]feed.EventPage{
		1: {Events: []feed.Event{
			event("e1", feed.SubjectOrder, feed.ActionCreated, 20*time.Minute),
			event("e2", feed.SubjectOrder, feed.ActionFulfilled, 15*time.Minute),
			event("e3", feed.SubjectCustomer, feed.ActionCreated, 10*time.Minute),
		}, NextPage: 2},
		2: {Events: []feed.Event{
			event("e4", feed.SubjectOrder, feed.ActionCreated, 5*time.Minute),
			event("e1", feed.SubjectOrder, feed.ActionCreated, 20*time.Minute),
		}},
	}}
	q := &MockEnqueuer{}
	p := newPoller(store, f, q)
	ctx := context.Background()

	res, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Automations != 1 || res.Queued != 2 || res.Fetched != 5 {
		t.Errorf("result = %+v", res)
	}
	got, ok := q.payload[delivery.AutomationJobID(tenant.ID, model.AutomationOrderCreated, "e4")]
	if !ok || got.SubjectType != feed.SubjectOrder || got.SubjectID != "s-e4" {
		t.Errorf("e4 payload = %+v, %v", got, ok)
	}
	if store.ProcessedCount() != 2 {
		t.Errorf("processed = %d, want 2", store.ProcessedCount())
	}
	if !f.sinces[0].Equal(base.Add(-time.Hour)) {
		t.Errorf("first poll since = %v, want default look-back", f.sinces[0])
	}

	res, err = p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if res.Queued != 0 || res.Duplicates != 2 || q.adds != 2 {
		t.Errorf("repoll result = %+v, adds = %d", res, q.adds)
	}
	if !f.sinces[2].Equal(base.Add(-20 * time.Minute)) {
		t.Errorf("second poll since = %v, want oldest processed occurrence", f.sinces[2])
	}
}

func TestRunOnceRecordsEventsQueuedBeforeAFailure(t *testing.T) {
	store := memrepo.New()
	seedShop(store)
	f := &MockFeed{pages: map[int]feed.EventPage{
		1: {Events: []feed.Event{
			event("e1", feed.SubjectOrder, feed.ActionCreated, 3*time.Minute),
			event("e2", feed.SubjectOrder, feed.ActionCreated, 2*time.Minute),
			event("e3", feed.SubjectOrder, feed.ActionCreated, time.Minute),
		}},
	}}
	q := &MockEnqueuer{failAt: 2}
	p := newPoller(store, f, q)
	ctx := context.Background()

	res, err := p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Queued != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if store.ProcessedCount() != 1 {
		t.Errorf("processed = %d, want 1", store.ProcessedCount())
	}

	res, _ = p.RunOnce(ctx)
	if res.Queued != 2 || res.Duplicates != 1 {
		t.Errorf("retry result = %+v", res)
	}
	if len(q.payload) != 3 {
		t.Errorf("distinct jobs = %d, want 3", len(q.payload))
	}
}

func TestPruneDropsOldProcessedEvents(t *testing.T) {
	store := memrepo.New()
	p := newPoller(store, &MockFeed{}, &MockEnqueuer{})
	ctx := context.Background()
	store.Processed.InsertBatch(ctx, []model.ProcessedEvent{
		{EventID: "old", TenantID: 1, AutomationType: model.AutomationOrderCreated, ProcessedAt: base.Add(-8 * 24 * time.Hour)},
		{EventID: "new", TenantID: 1, AutomationType: model.AutomationOrderCreated, ProcessedAt: base.Add(-time.Hour)},
	})

	n, err := p.Prune(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	if store.ProcessedCount() != 1 {
		t.Errorf("processed = %d, want 1", store.ProcessedCount())
	}
}
