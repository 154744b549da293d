package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// --- Mock Repositories ---

type MockUnitRepo struct {
	mu    sync.Mutex
	units map[uuid.UUID]*model.CampaignContact
	// claims counts successful pending -> processing swaps
	claims int
}

func NewMockUnitRepo(units ...*model.CampaignContact) *MockUnitRepo {
	m := &MockUnitRepo{units: map[uuid.UUID]*model.CampaignContact{}}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return m
}

func (m *MockUnitRepo) Get(id uuid.UUID) model.CampaignContact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.units[id]
}

func (m *MockUnitRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.CampaignContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return nil, appErrors.NewCampaignContactNotFound(id)
	}
	cp := *u
	return &cp, nil
}

func (m *MockUnitRepo) CreateIfNotExists(ctx context.Context, cc *model.CampaignContact) (*model.CampaignContact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		if u.CampaignID == cc.CampaignID && u.ContactID == cc.ContactID {
			cp := *u
			return &cp, false, nil
		}
	}
	if cc.ID == uuid.Nil {
		cc.ID = uuid.New()
	}
	cp := *cc
	m.units[cc.ID] = &cp
	return cc, true, nil
}

func (m *MockUnitRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.CampaignContact{}
	for _, u := range m.units {
		if u.Status == model.StatusPending && !u.ScheduledSendTime.After(now) {
			due = append(due, u)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledSendTime.Before(due[j].ScheduledSendTime) })
	ids := []uuid.UUID{}
	for i, u := range due {
		if i == limit {
			break
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (m *MockUnitRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok || u.Status != model.StatusPending {
		return false, nil
	}
	u.Status = model.StatusProcessing
	u.UpdatedAt = time.Now()
	m.claims++
	return true, nil
}

func (m *MockUnitRepo) Transition(ctx context.Context, id uuid.UUID, from, to model.ContactStatus, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok || u.Status != from {
		return false, nil
	}
	u.Status = to
	u.LastError = lastError
	return true, nil
}

func (m *MockUnitRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID string, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok || u.Status != model.StatusProcessing {
		return false, nil
	}
	u.Status = model.StatusSent
	u.SentAt = &sentAt
	u.LastProviderMessageID = messageID
	u.LastError = ""
	return true, nil
}

func (m *MockUnitRepo) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok || u.Status != model.StatusPending {
		return false, nil
	}
	u.ScheduledSendTime = at
	return true, nil
}

func (m *MockUnitRepo) RequeueFailed(ctx context.Context, maxRetries int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	for _, u := range m.units {
		if u.Status == model.StatusFailed && u.RetryCount < maxRetries {
			u.Status = model.StatusPending
			u.RetryCount++
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (m *MockUnitRepo) FailStale(ctx context.Context, claimedBefore time.Time, reason string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	for _, u := range m.units {
		if u.Status == model.StatusProcessing && u.UpdatedAt.Before(claimedBefore) {
			u.Status = model.StatusFailed
			u.LastError = reason
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (m *MockUnitRepo) UpdateDerived(ctx context.Context, id uuid.UUID, derived model.ContactStatus, openedAt, clickedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return appErrors.NewCampaignContactNotFound(id)
	}
	u.DerivedStatus = derived
	u.OpenedAt = openedAt
	u.ClickedAt = clickedAt
	return nil
}

type MockCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
	stats     map[string]int
}

func NewMockCampaignRepo(campaigns ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[uuid.UUID]*model.Campaign{}}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *MockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.campaigns[c.ID] = c
	return nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *MockCampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (m *MockCampaignRepo) GetCampaignStats(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	return m.stats, nil
}

type MockContactRepo struct {
	contacts map[uuid.UUID]*model.Contact
}

func NewMockContactRepo(contacts ...*model.Contact) *MockContactRepo {
	m := &MockContactRepo{contacts: map[uuid.UUID]*model.Contact{}}
	for _, c := range contacts {
		m.contacts[c.ID] = c
	}
	return m
}

func (m *MockContactRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	c, ok := m.contacts[id]
	if !ok {
		return nil, appErrors.ErrContactNotFound
	}
	return c, nil
}

func (m *MockContactRepo) Create(ctx context.Context, c *model.Contact) error {
	m.contacts[c.ID] = c
	return nil
}

func (m *MockContactRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	c, ok := m.contacts[id]
	if !ok {
		return appErrors.ErrContactNotFound
	}
	c.IsActive = false
	return nil
}

type MockEventRepo struct {
	mu     sync.Mutex
	events []model.EmailEvent
	// sentCount overrides CountSentForOrg when set
	sentCount *int
	countErr  error
}

func (m *MockEventRepo) Append(ctx context.Context, e *model.EmailEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *MockEventRepo) All() []model.EmailEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.EmailEvent(nil), m.events...)
}

func (m *MockEventRepo) ListByContact(ctx context.Context, contactID uuid.UUID) ([]model.EmailEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.EmailEvent{}
	for _, e := range m.events {
		if e.ContactID == contactID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventRepo) CountSentForOrg(ctx context.Context, orgID uuid.UUID, from, to time.Time) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	if m.sentCount != nil {
		return *m.sentCount, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.EventType == model.EventSent && !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
			n++
		}
	}
	return n, nil
}

func (m *MockEventRepo) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if e.EventType == model.EventSent && e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

type MockPlanRepo struct {
	plans map[uuid.UUID]string
	err   error
}

func (m *MockPlanRepo) GetPlan(ctx context.Context, orgID uuid.UUID) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	plan, ok := m.plans[orgID]
	if !ok {
		return "", appErrors.ErrPlanLookup
	}
	return plan, nil
}
