package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type stubLimiter struct {
	res   service.RateLimitResult
	calls int
	mu    sync.Mutex
}

func (s *stubLimiter) CheckRateLimits(ctx context.Context, orgID uuid.UUID) service.RateLimitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.res
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []dispatch.Message
	send func(msg dispatch.Message) (dispatch.Result, error)
}

func (d *recordingDispatcher) Send(ctx context.Context, msg dispatch.Message) (dispatch.Result, error) {
	d.mu.Lock()
	d.sent = append(d.sent, msg)
	d.mu.Unlock()
	if d.send != nil {
		return d.send(msg)
	}
	return dispatch.Result{MessageID: "msg-" + msg.To}, nil
}

func (d *recordingDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type jobFixture struct {
	now        time.Time
	campaign   *model.Campaign
	contact    *model.Contact
	unit       *model.CampaignContact
	units      *MockUnitRepo
	events     *MockEventRepo
	limiter    *stubLimiter
	dispatcher *recordingDispatcher
	hub        *realtime.Hub
	processor  *service.JobProcessor
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	now := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)
	campaign := &model.Campaign{
		ID:        uuid.New(),
		OrgID:     uuid.New(),
		Name:      "Spring launch",
		FromName:  "Acme",
		FromEmail: "news@acme.test",
		ReplyTo:   "support@acme.test",
		Steps: []model.SequenceStep{
			{StepNumber: 1, SubjectTemplate: "Hi {{first_name}}", BodyTemplate: `<html><body><p>Hello {{first_name}} from {{company}}</p><a href="https://acme.test/offer">Offer</a></body></html>`},
		},
	}
	contact := &model.Contact{ID: uuid.New(), Email: "jane@example.com", FirstName: "Jane", Company: "Globex", IsActive: true}
	unit := &model.CampaignContact{
		ID:                uuid.New(),
		CampaignID:        campaign.ID,
		ContactID:         contact.ID,
		Email:             contact.Email,
		Status:            model.StatusPending,
		ScheduledSendTime: now.Add(-time.Minute),
	}

	f := &jobFixture{
		now:        now,
		campaign:   campaign,
		contact:    contact,
		unit:       unit,
		units:      NewMockUnitRepo(unit),
		events:     &MockEventRepo{},
		limiter:    &stubLimiter{res: service.RateLimitResult{CanSend: true}},
		dispatcher: &recordingDispatcher{},
		hub:        realtime.NewHub(),
	}
	f.processor = &service.JobProcessor{
		Units:          f.units,
		Campaigns:      NewMockCampaignRepo(campaign),
		Contacts:       NewMockContactRepo(contact),
		Events:         f.events,
		Limiter:        f.limiter,
		Dispatcher:     f.dispatcher,
		Links:          links.NewSigner("link-secret", "https://mail.acme.test"),
		Publisher:      f.hub,
		RateLimitDelay: 15 * time.Minute,
		Now:            func() time.Time { return now },
		Logger:         logger.Discard(),
	}
	return f
}

func TestProcessEmailJob_Sends(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	updates, release := f.hub.Subscribe(f.campaign.ID)
	defer release()

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	require.NoError(t, res.Err)
	assert.Equal(t, service.OutcomeSent, res.Outcome)
	assert.Equal(t, "msg-jane@example.com", res.MessageID)

	got := f.units.Get(f.unit.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, f.now, *got.SentAt)
	assert.Equal(t, "msg-jane@example.com", got.LastProviderMessageID)

	require.Equal(t, 1, f.dispatcher.Count())
	msg := f.dispatcher.sent[0]
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Equal(t, "Hi Jane", msg.Subject)
	assert.Contains(t, msg.HTML, "Hello Jane from Globex")
	assert.Equal(t, "Acme <news@acme.test>", msg.From)
	assert.Equal(t, "support@acme.test", msg.ReplyTo)
	assert.Equal(t, f.campaign.ID, msg.CampaignID)
	assert.Equal(t, f.unit.ID, msg.ContactID)
	assert.Equal(t, 1, msg.StepNumber)
	assert.True(t, strings.HasPrefix(msg.UnsubscribeURL, "https://mail.acme.test/unsubscribe?"))

	sent := f.events.All()
	require.Len(t, sent, 1)
	assert.Equal(t, model.EventSent, sent[0].EventType)
	assert.Equal(t, f.unit.ID, sent[0].ContactID)
	assert.Equal(t, "msg-jane@example.com", sent[0].ProviderMessageID)

	select {
	case u := <-updates:
		assert.Equal(t, model.StatusSent, u.Status)
	case <-time.After(time.Second):
		t.Fatal("no status update published")
	}
}

func TestProcessEmailJob_InjectsTracking(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.campaign.TrackOpens = true
	f.campaign.TrackClicks = true

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	require.Equal(t, service.OutcomeSent, res.Outcome)

	msg := f.dispatcher.sent[0]
	assert.Contains(t, msg.HTML, "https://mail.acme.test/track/open/")
	assert.Contains(t, msg.HTML, "https://mail.acme.test/track/click/")
	assert.False(t, msg.TrackOpens)
	assert.False(t, msg.TrackClicks)
}

func TestProcessEmailJob_ProviderTrackingWithoutLinks(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.campaign.TrackOpens = true
	f.processor.Links = links.NewSigner("", "")

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	require.Equal(t, service.OutcomeSent, res.Outcome)

	msg := f.dispatcher.sent[0]
	assert.True(t, msg.TrackOpens)
	assert.NotContains(t, msg.HTML, "/track/open/")
	assert.Empty(t, msg.UnsubscribeURL)
}

func TestProcessEmailJob_NotReadyDoesNotMutate(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.unit.ScheduledSendTime = f.now.Add(time.Hour)
	before := f.units.Get(f.unit.ID)

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeNotReady, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrNotReady)

	assert.Equal(t, before, f.units.Get(f.unit.ID))
	assert.Zero(t, f.dispatcher.Count())
	assert.Zero(t, f.limiter.calls)
	assert.Empty(t, f.events.All())
}

func TestProcessEmailJob_NonPendingIsNoop(t *testing.T) {
	t.Parallel()

	for _, status := range []model.ContactStatus{model.StatusProcessing, model.StatusSent, model.StatusFailed, model.StatusSkipped} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()

			f := newJobFixture(t)
			f.unit.Status = status
			before := f.units.Get(f.unit.ID)

			res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
			assert.Equal(t, service.OutcomeAlreadyProcessed, res.Outcome)
			assert.ErrorIs(t, res.Err, appErrors.ErrAlreadyProcessed)
			assert.Equal(t, before, f.units.Get(f.unit.ID))
			assert.Zero(t, f.dispatcher.Count())
		})
	}
}

func TestProcessEmailJob_DuplicateInvocationSendsOnce(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)

	first := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	second := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)

	assert.Equal(t, service.OutcomeSent, first.Outcome)
	assert.Equal(t, service.OutcomeAlreadyProcessed, second.Outcome)
	assert.Equal(t, 1, f.dispatcher.Count())
}

func TestProcessEmailJob_ConcurrentInvocationsClaimOnce(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.dispatcher.Count())
	assert.Equal(t, model.StatusSent, f.units.Get(f.unit.ID).Status)
}

func TestProcessEmailJob_InactiveContactSkipped(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.contact.IsActive = false

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeSkipped, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrContactInactive)
	assert.Equal(t, model.StatusSkipped, f.units.Get(f.unit.ID).Status)
	assert.Zero(t, f.dispatcher.Count())
}

func TestProcessEmailJob_MissingContactSkipped(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.processor.Contacts = NewMockContactRepo()

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeSkipped, res.Outcome)
	assert.Equal(t, model.StatusSkipped, f.units.Get(f.unit.ID).Status)
}

func TestProcessEmailJob_MissingStepFails(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.campaign.Steps = nil

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrMissingSequenceStep)

	got := f.units.Get(f.unit.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "sequence step not found")
	assert.Zero(t, f.dispatcher.Count())
}

func TestProcessEmailJob_EmptyTemplateFails(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.campaign.Steps[0].BodyTemplate = "  "

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrTemplateDataMissing)
	assert.Equal(t, model.StatusFailed, f.units.Get(f.unit.ID).Status)
}

func TestProcessEmailJob_RateLimitedRequeues(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.limiter.res = service.RateLimitResult{CanSend: false, Reason: "Hourly limit reached (50/hour)"}

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeRateLimited, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrRateLimited)
	assert.Contains(t, res.Err.Error(), "50/hour")

	got := f.units.Get(f.unit.ID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, f.now.Add(15*time.Minute), got.ScheduledSendTime)
	assert.Zero(t, f.units.claims)
	assert.Zero(t, f.dispatcher.Count())
}

func TestProcessEmailJob_ProviderErrorFails(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.dispatcher.send = func(dispatch.Message) (dispatch.Result, error) {
		return dispatch.Result{}, errors.Join(appErrors.ErrDelivery, errors.New("postmark error: 406 - Inactive recipient"))
	}

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrDelivery)

	got := f.units.Get(f.unit.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "Inactive recipient")
	assert.Empty(t, f.events.All())
}

func TestProcessEmailJob_TimeoutFails(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	slow := dispatch.DispatcherFunc(func(ctx context.Context, msg dispatch.Message) (dispatch.Result, error) {
		<-ctx.Done()
		return dispatch.Result{}, ctx.Err()
	})
	f.processor.Dispatcher = dispatch.WithTimeout(slow, 10*time.Millisecond)

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, appErrors.ErrDeliveryTimeout)
	assert.Equal(t, model.StatusFailed, f.units.Get(f.unit.ID).Status)
}

func TestProcessEmailJob_PanicNeverLeavesProcessing(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	f.dispatcher.send = func(dispatch.Message) (dispatch.Result, error) {
		panic("provider client exploded")
	}

	res := f.processor.ProcessEmailJob(context.Background(), f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)

	got := f.units.Get(f.unit.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "provider client exploded")
}

func TestProcessEmailJob_CancelledContextStillFinishes(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.dispatcher.send = func(dispatch.Message) (dispatch.Result, error) {
		cancel()
		return dispatch.Result{}, context.Canceled
	}

	res := f.processor.ProcessEmailJob(ctx, f.unit.ID)
	assert.Equal(t, service.OutcomeFailed, res.Outcome)
	assert.Equal(t, model.StatusFailed, f.units.Get(f.unit.ID).Status)
}

func TestProcessEmailJob_UnknownUnit(t *testing.T) {
	t.Parallel()

	f := newJobFixture(t)
	res := f.processor.ProcessEmailJob(context.Background(), uuid.New())
	assert.Equal(t, service.OutcomeError, res.Outcome)
	assert.True(t, appErrors.IsNotFound(res.Err))
}
