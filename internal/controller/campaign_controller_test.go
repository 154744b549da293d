package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/controller"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// --- Mock Repositories ---

type MockCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	c.ID = uuid.New()
	m.campaigns[c.ID] = c
	return nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	if c, ok := m.campaigns[id]; ok {
		return c, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) UpdateStatus(context.Context, uuid.UUID, string) error { return nil }

func (m *MockCampaignRepo) GetCampaignStats(context.Context, uuid.UUID) (map[string]int, error) {
	return map[string]int{}, nil
}

type MockContactRepo struct {
	contacts map[uuid.UUID]*model.Contact
}

func (m *MockContactRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Contact, error) {
	if c, ok := m.contacts[id]; ok {
		return c, nil
	}
	return nil, appErrors.ErrContactNotFound
}

func (m *MockContactRepo) Create(context.Context, *model.Contact) error { return nil }

// MockUnitRepo implements only what enrollment needs.
type MockUnitRepo struct {
	repository.CampaignContactRepositoryInterface
	mu      sync.Mutex
	created []*model.CampaignContact
}

func (m *MockUnitRepo) CreateIfNotExists(_ context.Context, cc *model.CampaignContact) (*model.CampaignContact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.created {
		if u.CampaignID == cc.CampaignID && u.ContactID == cc.ContactID {
			return u, false, nil
		}
	}
	cc.ID = uuid.New()
	m.created = append(m.created, cc)
	return cc, true, nil
}

type recordingQueue struct {
	published []any
}

func (q *recordingQueue) Publish(_ string, payload any) error {
	q.published = append(q.published, payload)
	return nil
}

func (q *recordingQueue) Subscribe(string, func(any) error) error { return nil }

// --- fixture ---

type fixture struct {
	campaign *model.Campaign
	contact  *model.Contact
	units    *MockUnitRepo
	jobs     *recordingQueue
	router   http.Handler
}

func newFixture() *fixture {
	campaign := &model.Campaign{
		ID:        uuid.New(),
		OrgID:     uuid.New(),
		Name:      "Welcome",
		FromEmail: "hello@acme.test",
		Steps: []model.SequenceStep{
			{StepNumber: 1, SubjectTemplate: "Hi {{first_name}}", BodyTemplate: "Hello {{first_name}} from {{company}}"},
			{StepNumber: 2, SubjectTemplate: "Still there?", BodyTemplate: "Ping {{custom.plan}}"},
		},
	}
	contact := &model.Contact{
		ID: uuid.New(), Email: "alice@example.com", FirstName: "Alice", Company: "Acme",
		CustomFields: map[string]string{"plan": "pro"}, IsActive: true,
	}

	f := &fixture{campaign: campaign, contact: contact, units: &MockUnitRepo{}, jobs: &recordingQueue{}}
	svc := &service.CampaignService{
		CampaignRepo: &MockCampaignRepo{campaigns: map[uuid.UUID]*model.Campaign{campaign.ID: campaign}},
		ContactRepo:  &MockContactRepo{contacts: map[uuid.UUID]*model.Contact{contact.ID: contact}},
		UnitRepo:     f.units,
		Now:          time.Now,
		Logger:       logger.Discard(),
	}
	ctrl := &controller.CampaignController{CampaignService: svc, Jobs: f.jobs, Logger: logger.Discard()}

	r := chi.NewRouter()
	r.Post("/campaigns", ctrl.CreateCampaign)
	r.Post("/campaigns/{id}/contacts", ctrl.AssignAudience)
	r.Post("/campaigns/{id}/personalized-preview", ctrl.PersonalizedPreview)
	f.router = r
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var res map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	return res
}

// --- tests ---

func TestPersonalizedPreviewHandler(t *testing.T) {
	f := newFixture()

	w := f.post(t, "/campaigns/"+f.campaign.ID.String()+"/personalized-preview", map[string]any{
		"contact_id": f.contact.ID,
	})

	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, "Hi Alice", res["subject"])
	assert.Equal(t, "Hello Alice from Acme", res["rendered_message"])
	assert.EqualValues(t, 1, res["step_number"])
}

func TestPersonalizedPreviewHandler_OverrideAndStep(t *testing.T) {
	f := newFixture()

	w := f.post(t, "/campaigns/"+f.campaign.ID.String()+"/personalized-preview", map[string]any{
		"contact_id":        f.contact.ID,
		"step_number":       2,
		"override_template": "Plan {{custom.plan}}, {{mystery}}",
	})

	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, "Plan pro, {{mystery}}", res["rendered_message"])
	assert.Equal(t, []any{"mystery"}, res["unknown_variables"])
	assert.Equal(t, "Plan {{custom.plan}}, {{mystery}}", res["used_template"])
}

func TestPersonalizedPreviewHandler_Errors(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		path string
		body map[string]any
		code int
	}{
		{"unknown campaign", "/campaigns/" + uuid.NewString() + "/personalized-preview", map[string]any{"contact_id": f.contact.ID}, http.StatusNotFound},
		{"unknown contact", "/campaigns/" + f.campaign.ID.String() + "/personalized-preview", map[string]any{"contact_id": uuid.New()}, http.StatusNotFound},
		{"missing step", "/campaigns/" + f.campaign.ID.String() + "/personalized-preview", map[string]any{"contact_id": f.contact.ID, "step_number": 9}, http.StatusNotFound},
		{"bad id", "/campaigns/abc/personalized-preview", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, f.post(t, tt.path, tt.body).Code)
		})
	}
}

func TestCreateCampaign(t *testing.T) {
	f := newFixture()

	w := f.post(t, "/campaigns", map[string]any{
		"org_id":     uuid.New(),
		"name":       "Onboarding",
		"from_email": "team@acme.test",
		"steps": []map[string]any{
			{"subject_template": "Welcome", "body_template": "Hi {{first_name}}"},
			{"subject_template": "Day 3", "body_template": "Tips", "delay_minutes": 4320},
		},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var c model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&c))
	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, "draft", c.Status)
	require.Len(t, c.Steps, 2)
	assert.Equal(t, 2, c.Steps[1].StepNumber)
	assert.Equal(t, 72*time.Hour, c.Steps[1].Delay)
}

func TestCreateCampaign_Invalid(t *testing.T) {
	f := newFixture()

	w := f.post(t, "/campaigns", map[string]any{
		"org_id":     uuid.New(),
		"name":       "No steps",
		"from_email": "not-an-email",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssignAudience(t *testing.T) {
	f := newFixture()
	path := "/campaigns/" + f.campaign.ID.String() + "/contacts"
	missing := uuid.New()

	w := f.post(t, path, map[string]any{"contact_ids": []uuid.UUID{f.contact.ID, missing}})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.EqualValues(t, 1, res["created"])
	assert.Equal(t, []any{missing.String()}, res["missing"])
	assert.Equal(t, true, res["queued"])
	require.Len(t, f.jobs.published, 1)
	assert.Equal(t, queue.Job{Kind: queue.JobProcessPending}, f.jobs.published[0])

	// enrolling again is a no-op and does not enqueue
	w = f.post(t, path, map[string]any{"contact_ids": []uuid.UUID{f.contact.ID}})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode(t, w)
	assert.EqualValues(t, 0, res["created"])
	assert.EqualValues(t, 1, res["existing"])
	assert.Equal(t, false, res["queued"])
	assert.Len(t, f.jobs.published, 1)
	assert.Len(t, f.units.created, 1)
	assert.Equal(t, model.StatusPending, f.units.created[0].Status)
}

func TestAssignAudience_RequiresContacts(t *testing.T) {
	f := newFixture()
	w := f.post(t, "/campaigns/"+f.campaign.ID.String()+"/contacts", map[string]any{"contact_ids": []uuid.UUID{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
