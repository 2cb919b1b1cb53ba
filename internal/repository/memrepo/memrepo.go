// Package memrepo keeps every table in memory behind one mutex. Conditional
// updates become compare-and-swap under that mutex, which is enough to drive
// the concurrency properties of the pipeline in tests.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

type Store struct {
	mu     sync.Mutex
	nextID int
	now    func() time.Time

	tenants     map[int]*model.Tenant
	entries     []model.LedgerEntry
	customers   map[int]*model.Customer
	campaigns   map[int]*model.Campaign
	recipients  map[int]*model.CampaignRecipient
	logs        []*model.MessageLog
	automations []*model.Automation
	processed   map[processedKey]model.ProcessedEvent

	Tenants     *TenantRepo
	Credits     *CreditRepo
	Customers   *CustomerRepo
	Campaigns   *CampaignRepo
	Recipients  *RecipientRepo
	MessageLogs *MessageLogRepo
	Automations *AutomationRepo
	Processed   *ProcessedEventRepo
}

type processedKey struct {
	eventID        string
	tenantID       int
	automationType string
}

func New() *Store {
	s := &Store{
		now:        time.Now,
		tenants:    map[int]*model.Tenant{},
		customers:  map[int]*model.Customer{},
		campaigns:  map[int]*model.Campaign{},
		recipients: map[int]*model.CampaignRecipient{},
		processed:  map[processedKey]model.ProcessedEvent{},
	}
	s.Tenants = &TenantRepo{s}
	s.Credits = &CreditRepo{s}
	s.Customers = &CustomerRepo{s}
	s.Campaigns = &CampaignRepo{s}
	s.Recipients = &RecipientRepo{s}
	s.MessageLogs = &MessageLogRepo{s}
	s.Automations = &AutomationRepo{s}
	s.Processed = &ProcessedEventRepo{s}
	return s
}

// SetClock replaces time.Now for timestamps written by the store.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

// ====================== Seeding helpers ======================

// AddTenant stores a tenant and books its opening balance as a top-up.
func (s *Store) AddTenant(t model.Tenant) *model.Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	t.CreatedAt = s.now()
	s.tenants[t.ID] = &t
	if t.Credits != 0 {
		s.entries = append(s.entries, model.LedgerEntry{
			ID: s.id(), TenantID: t.ID, Delta: t.Credits, BalanceAfter: t.Credits, Reason: model.ReasonTopUp, CreatedAt: s.now(),
		})
	}
	cp := t
	return &cp
}

func (s *Store) AddCustomer(c model.Customer) *model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.customers[c.ID] = &c
	cp := c
	return &cp
}

func (s *Store) AddCampaign(c model.Campaign) *model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.campaigns[c.ID] = &c
	cp := c
	return &cp
}

// AddRecipient stores a recipient as is, bypassing the pending-only insert.
func (s *Store) AddRecipient(r model.CampaignRecipient) *model.CampaignRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.id()
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.recipients[r.ID] = &r
	cp := r
	return &cp
}

func (s *Store) AddAutomation(a model.Automation) *model.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	a.CreatedAt = s.now()
	s.automations = append(s.automations, &a)
	cp := a
	return &cp
}

// ====================== Inspection helpers ======================

func (s *Store) Campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return *c
	}
	return model.Campaign{}
}

func (s *Store) Recipient(id int) model.CampaignRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recipients[id]; ok {
		return *r
	}
	return model.CampaignRecipient{}
}

func (s *Store) RecipientsOf(campaignID int) []model.CampaignRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignRecipient
	for _, r := range s.sortedRecipients() {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) TenantCredits(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[id]; ok {
		return t.Credits
	}
	return 0
}

func (s *Store) LedgerEntries(tenantID int) []model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range s.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Logs() []model.MessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MessageLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	return out
}

func (s *Store) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

func (s *Store) sortedRecipients() []*model.CampaignRecipient {
	out := make([]*model.CampaignRecipient, 0, len(s.recipients))
	for _, r := range s.recipients {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ====================== Tenants and credits ======================

type TenantRepo struct{ s *Store }

func (r *TenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	t.Credits = 0
	created := r.s.AddTenant(*t)
	t.ID, t.CreatedAt = created.ID, created.CreatedAt
	return nil
}

func (r *TenantRepo) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, appErrors.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TenantRepo) ListWithFeed(ctx context.Context) ([]*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Tenant
	for _, t := range r.s.tenants {
		if t.ShopBaseURL != "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type CreditRepo struct{ s *Store }

func (r *CreditRepo) apply(tenantID, delta int, reason, reference string) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, appErrors.ErrTenantNotFound
	}
	if reference != "" {
		for _, e := range s.entries {
			if e.TenantID == tenantID && e.Reference == reference {
				return t.Credits, appErrors.ErrDuplicate
			}
		}
	}
	if t.Credits+delta < 0 {
		return t.Credits, appErrors.NewInsufficientCredits(tenantID, -delta, t.Credits)
	}
	t.Credits += delta
	s.entries = append(s.entries, model.LedgerEntry{
		ID: s.id(), TenantID: tenantID, Delta: delta, BalanceAfter: t.Credits,
		Reason: reason, Reference: reference, CreatedAt: s.now(),
	})
	return t.Credits, nil
}

func (r *CreditRepo) Debit(ctx context.Context, tenantID, count int, reason, reference string) (int, error) {
	return r.apply(tenantID, -count, reason, reference)
}

func (r *CreditRepo) Credit(ctx context.Context, tenantID, count int, reason, reference string) (int, error) {
	return r.apply(tenantID, count, reason, reference)
}

func (r *CreditRepo) Balance(ctx context.Context, tenantID int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[tenantID]
	if !ok {
		return 0, appErrors.ErrTenantNotFound
	}
	return t.Credits, nil
}

func (r *CreditRepo) LedgerSum(ctx context.Context, tenantID int) (int, error) {
	sum := 0
	for _, e := range r.s.LedgerEntries(tenantID) {
		sum += e.Delta
	}
	return sum, nil
}

// ====================== Customers ======================

type CustomerRepo struct{ s *Store }

func (r *CustomerRepo) GetByID(ctx context.Context, id int) (*model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *CustomerRepo) Create(ctx context.Context, c *model.Customer) error {
	c.ID = r.s.AddCustomer(*c).ID
	return nil
}

func (r *CustomerRepo) ListAudience(ctx context.Context, tenantID int) ([]model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.Customer{}
	for _, c := range r.s.customers {
		if c.TenantID == tenantID && !c.OptedOut {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ====================== Campaigns ======================

type CampaignRepo struct{ s *Store }

func (r *CampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	created := r.s.AddCampaign(*c)
	c.ID, c.CreatedAt = created.ID, created.CreatedAt
	return nil
}

func (r *CampaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition moves a campaign from one of the given states; false when the
// campaign is elsewhere.
func (r *CampaignRepo) transition(id int, to string, from ...string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return false, appErrors.NewCampaignNotFound(id)
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			now := r.s.now()
			c.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *CampaignRepo) ClaimScheduled(ctx context.Context, id int) error {
	ok, err := r.transition(id, model.CampaignSending, model.CampaignScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.ErrClaimConflict
	}
	return nil
}

func (r *CampaignRepo) RevertClaim(ctx context.Context, id int) error {
	_, err := r.transition(id, model.CampaignScheduled, model.CampaignSending)
	return err
}

func (r *CampaignRepo) Cancel(ctx context.Context, id int) error {
	ok, err := r.transition(id, model.CampaignCancelled, model.CampaignDraft, model.CampaignScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.ErrNotCancellable
	}
	return nil
}

func (r *CampaignRepo) MarkDispatched(ctx context.Context, id, recipientCount int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != model.CampaignSending || c.DispatchedAt != nil {
		return false, nil
	}
	now := r.s.now()
	c.DispatchedAt = &now
	c.RecipientCount = recipientCount
	c.UpdatedAt = &now
	return true, nil
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, id int, reason string) (bool, error) {
	ok, err := r.transition(id, model.CampaignFailed, model.CampaignSending)
	if ok {
		r.s.mu.Lock()
		r.s.campaigns[id].FailureReason = reason
		r.s.mu.Unlock()
	}
	return ok, err
}

func (r *CampaignRepo) ListForSync(ctx context.Context, refineSince time.Time) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		include := c.Status == model.CampaignSending && c.DispatchedAt != nil
		if c.Status == model.CampaignSent && c.UpdatedAt != nil && !c.UpdatedAt.Before(refineSince) {
			for _, rec := range r.s.recipients {
				if rec.CampaignID == c.ID && unresolved(rec) {
					include = true
					break
				}
			}
		}
		if include {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CampaignRepo) RecomputeStatus(ctx context.Context, id int) (string, bool, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return "", false, err
	}
	if c.DispatchedAt == nil {
		return model.CampaignSending, false, nil
	}
	counts, _ := r.s.Recipients.CountByCampaign(ctx, id)
	next := model.DeriveCampaignStatus(counts)
	if next == model.CampaignSending {
		return next, false, nil
	}
	ok, err := r.transition(id, next, model.CampaignSending)
	return next, ok, err
}

// ====================== Recipients ======================

type RecipientRepo struct{ s *Store }

func unresolved(r *model.CampaignRecipient) bool {
	return r.Status == model.RecipientSent && r.ProviderMessageID != "" && !model.IsDeliveryTerminal(r.DeliveryStatus)
}

func (r *RecipientRepo) CreateIfAbsent(ctx context.Context, rec *model.CampaignRecipient) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.campaigns[rec.CampaignID]; !ok || c.DispatchedAt != nil {
		return false, nil
	}
	for _, existing := range r.s.recipients {
		if existing.CampaignID == rec.CampaignID && existing.Destination == rec.Destination {
			return false, nil
		}
	}
	cp := *rec
	cp.ID = r.s.id()
	cp.Status = model.RecipientPending
	cp.CreatedAt = r.s.now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.recipients[cp.ID] = &cp
	return true, nil
}

func (r *RecipientRepo) GetByID(ctx context.Context, id int) (*model.CampaignRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *RecipientRepo) filter(campaignID int, keep func(*model.CampaignRecipient) bool) []*model.CampaignRecipient {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.CampaignRecipient{}
	for _, rec := range r.s.sortedRecipients() {
		if rec.CampaignID == campaignID && keep(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

func (r *RecipientRepo) ListPending(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	return r.filter(campaignID, func(rec *model.CampaignRecipient) bool { return rec.Status == model.RecipientPending }), nil
}

func (r *RecipientRepo) ListUnresolved(ctx context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	return r.filter(campaignID, unresolved), nil
}

func (r *RecipientRepo) CountByCampaign(ctx context.Context, campaignID int) (model.RecipientCounts, error) {
	var c model.RecipientCounts
	for _, rec := range r.filter(campaignID, func(*model.CampaignRecipient) bool { return true }) {
		c.Total++
		if rec.Status == model.RecipientPending {
			c.Pending++
		}
		if rec.Status == model.RecipientFailed || rec.DeliveryStatus == model.DeliveryFailed {
			c.Failed++
		}
	}
	return c, nil
}

func (r *RecipientRepo) MarkSent(ctx context.Context, id int, providerMessageID, providerStatus string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok || rec.Status != model.RecipientPending {
		return false, nil
	}
	rec.Status = model.RecipientSent
	rec.ProviderMessageID = providerMessageID
	rec.ProviderStatus = providerStatus
	rec.DeliveryStatus = model.DeliverySent
	rec.LastError = ""
	rec.Attempts++
	rec.UpdatedAt = r.s.now()
	return true, nil
}

func (r *RecipientRepo) MarkFailed(ctx context.Context, id int, lastError string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[id]
	if !ok || rec.Status != model.RecipientPending {
		return false, nil
	}
	rec.Status = model.RecipientFailed
	rec.LastError = lastError
	rec.Attempts++
	rec.UpdatedAt = r.s.now()
	if c, ok := r.s.campaigns[rec.CampaignID]; ok {
		c.FailedCount++
	}
	return true, nil
}

func (r *RecipientRepo) RecordAttempt(ctx context.Context, id int, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec, ok := r.s.recipients[id]; ok && rec.Status == model.RecipientPending {
		rec.Attempts++
		rec.LastError = lastError
	}
	return nil
}

func (r *RecipientRepo) ApplyDeliveryStatus(ctx context.Context, u repository.DeliveryUpdate) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[u.RecipientID]
	if !ok || model.IsDeliveryTerminal(rec.DeliveryStatus) {
		return false, nil
	}
	rec.ProviderStatus = u.ProviderStatus
	if rec.DeliveryStatus == u.Status && !model.IsDeliveryTerminal(u.Status) {
		return false, nil
	}
	rec.DeliveryStatus = u.Status
	if u.DeliveredAt != nil {
		rec.DeliveredAt = u.DeliveredAt
	}
	rec.UpdatedAt = r.s.now()
	c := r.s.campaigns[u.CampaignID]
	switch u.Status {
	case model.DeliveryDelivered:
		if c != nil {
			c.DeliveredCount++
		}
	case model.DeliveryFailed:
		if c != nil {
			c.FailedCount++
		}
	}
	return model.IsDeliveryTerminal(u.Status), nil
}

// ====================== Message logs ======================

type MessageLogRepo struct{ s *Store }

func (r *MessageLogRepo) Append(ctx context.Context, l *model.MessageLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l.ID = r.s.id()
	l.CreatedAt = r.s.now()
	cp := *l
	r.s.logs = append(r.s.logs, &cp)
	return nil
}

func (r *MessageLogRepo) LatestByProviderID(ctx context.Context, providerMessageID string) (*model.MessageLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.logs) - 1; i >= 0; i-- {
		if r.s.logs[i].ProviderMessageID == providerMessageID {
			cp := *r.s.logs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// ====================== Automations ======================

type AutomationRepo struct{ s *Store }

func (r *AutomationRepo) ListActive(ctx context.Context, tenantID int) ([]*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Automation{}
	for _, a := range r.s.automations {
		if a.TenantID == tenantID && a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *AutomationRepo) Get(ctx context.Context, tenantID int, automationType string) (*model.Automation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.automations {
		if a.TenantID == tenantID && a.Type == automationType {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *AutomationRepo) Upsert(ctx context.Context, a *model.Automation) error {
	r.s.mu.Lock()
	for _, existing := range r.s.automations {
		if existing.TenantID == a.TenantID && existing.Type == a.Type {
			existing.Template, existing.Active = a.Template, a.Active
			a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
			r.s.mu.Unlock()
			return nil
		}
	}
	r.s.mu.Unlock()
	created := r.s.AddAutomation(*a)
	a.ID, a.CreatedAt = created.ID, created.CreatedAt
	return nil
}

type ProcessedEventRepo struct{ s *Store }

func (r *ProcessedEventRepo) RecentOccurredAt(ctx context.Context, tenantID int, automationType string, limit int) (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var events []model.ProcessedEvent
	for _, e := range r.s.processed {
		if e.TenantID == tenantID && e.AutomationType == automationType {
			events = append(events, e)
		}
	}
	if len(events) == 0 {
		return nil, nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ProcessedAt.After(events[j].ProcessedAt) })
	if len(events) > limit {
		events = events[:limit]
	}
	oldest := events[0].OccurredAt
	for _, e := range events[1:] {
		if e.OccurredAt.Before(oldest) {
			oldest = e.OccurredAt
		}
	}
	return &oldest, nil
}

func (r *ProcessedEventRepo) ExistingIDs(ctx context.Context, tenantID int, automationType string, eventIDs []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]bool{}
	for _, id := range eventIDs {
		if _, ok := r.s.processed[processedKey{id, tenantID, automationType}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r *ProcessedEventRepo) InsertBatch(ctx context.Context, events []model.ProcessedEvent) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inserted := 0
	for _, e := range events {
		key := processedKey{e.EventID, e.TenantID, e.AutomationType}
		if _, ok := r.s.processed[key]; ok {
			continue
		}
		if e.ProcessedAt.IsZero() {
			e.ProcessedAt = r.s.now()
		}
		r.s.processed[key] = e
		inserted++
	}
	return inserted, nil
}

func (r *ProcessedEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for key, e := range r.s.processed {
		if e.ProcessedAt.Before(cutoff) {
			delete(r.s.processed, key)
			n++
		}
	}
	return n, nil
}

var (
	_ repository.TenantRepositoryInterface         = (*TenantRepo)(nil)
	_ repository.CreditRepositoryInterface         = (*CreditRepo)(nil)
	_ repository.CustomerRepositoryInterface       = (*CustomerRepo)(nil)
	_ repository.CampaignRepositoryInterface       = (*CampaignRepo)(nil)
	_ repository.RecipientRepositoryInterface      = (*RecipientRepo)(nil)
	_ repository.MessageLogRepositoryInterface     = (*MessageLogRepo)(nil)
	_ repository.AutomationRepositoryInterface     = (*AutomationRepo)(nil)
	_ repository.ProcessedEventRepositoryInterface = (*ProcessedEventRepo)(nil)
)
