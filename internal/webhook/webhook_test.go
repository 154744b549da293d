package webhook_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/webhook"
)

const secret = "whsec_test"

func signedHeaders(t *testing.T, body []byte, at time.Time) http.Header {
	t.Helper()
	sig, err := webhook.SignPayload(secret, body, at)
	require.NoError(t, err)
	h := http.Header{}
	sig.Apply(h)
	return h
}

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{"type":"email.delivered"}`)
	v := webhook.Verifier{Secret: secret, MaxAge: 5 * time.Minute, Now: func() time.Time { return now }}

	assert.NoError(t, v.Verify(body, signedHeaders(t, body, now)))
}

func TestVerifier_AcceptsSha256Prefix(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{"type":"email.delivered"}`)
	h := signedHeaders(t, body, now)
	h.Set(webhook.HeaderSignature, "sha256="+h.Get(webhook.HeaderSignature))

	v := webhook.Verifier{Secret: secret, MaxAge: 5 * time.Minute, Now: func() time.Time { return now }}
	assert.NoError(t, v.Verify(body, h))
}

func TestVerifier_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{"type":"email.delivered"}`)

	tests := []struct {
		name    string
		secret  string
		body    []byte
		headers http.Header
	}{
		{name: "tampered body", secret: secret, body: []byte(`{"type":"email.clicked"}`), headers: signedHeaders(t, body, now)},
		{name: "wrong secret", secret: "other", body: body, headers: signedHeaders(t, body, now)},
		{name: "empty secret", secret: "", body: body, headers: signedHeaders(t, body, now)},
		{name: "stale timestamp", secret: secret, body: body, headers: signedHeaders(t, body, now.Add(-10*time.Minute))},
		{name: "future timestamp", secret: secret, body: body, headers: signedHeaders(t, body, now.Add(10*time.Minute))},
		{name: "missing headers", secret: secret, body: body, headers: http.Header{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := webhook.Verifier{Secret: tt.secret, MaxAge: 5 * time.Minute, Now: func() time.Time { return now }}
			err := v.Verify(tt.body, tt.headers)
			assert.ErrorIs(t, err, appErrors.ErrInvalidSignature)
		})
	}
}

func TestParse_ObjectTags(t *testing.T) {
	t.Parallel()

	campaignID, contactID := uuid.New(), uuid.New()
	body := []byte(`{
		"type": "email.clicked",
		"created_at": "2025-03-01T10:00:00Z",
		"data": {
			"id": "msg-1",
			"to": ["jane@example.com"],
			"subject": "Hello",
			"url": "https://acme.test",
			"tags": {"campaign_id": "` + campaignID.String() + `", "contact_id": "` + contactID.String() + `", "step_number": 2}
		}
	}`)

	ev, err := webhook.Parse(body)
	require.NoError(t, err)

	corr, err := ev.Correlation()
	require.NoError(t, err)
	assert.Equal(t, campaignID, corr.CampaignID)
	assert.Equal(t, contactID, corr.ContactID)
	assert.Equal(t, 2, corr.StepNumber)

	typ, ok := ev.EventType()
	require.True(t, ok)
	assert.Equal(t, model.EventClick, typ)

	meta := ev.Metadata()
	assert.Equal(t, "https://acme.test", meta["url"])
	assert.Equal(t, "jane@example.com", meta["to"])
}

func TestParse_ListTagsDefaultsStep(t *testing.T) {
	t.Parallel()

	campaignID, contactID := uuid.New(), uuid.New()
	body := []byte(`{
		"type": "email.bounced",
		"data": {
			"id": "msg-2",
			"to": "jane@example.com",
			"bounce": {"type": "hard", "reason": "mailbox does not exist"},
			"tags": [
				{"name": "campaign_id", "value": "` + campaignID.String() + `"},
				{"name": "contact_id", "value": "` + contactID.String() + `"}
			]
		}
	}`)

	ev, err := webhook.Parse(body)
	require.NoError(t, err)

	corr, err := ev.Correlation()
	require.NoError(t, err)
	assert.Equal(t, 1, corr.StepNumber)
	assert.Equal(t, "hard", ev.Metadata()["bounce_type"])
}

func TestParse_MissingTags(t *testing.T) {
	t.Parallel()

	ev, err := webhook.Parse([]byte(`{"type":"email.delivered","data":{"id":"msg-3"}}`))
	require.NoError(t, err)

	_, err = ev.Correlation()
	assert.ErrorIs(t, err, appErrors.ErrMissingCorrelationTags)

	ev, err = webhook.Parse([]byte(`{"type":"email.delivered","data":{"tags":{"campaign_id":"nope","contact_id":"nope"}}}`))
	require.NoError(t, err)
	_, err = ev.Correlation()
	assert.ErrorIs(t, err, appErrors.ErrMissingCorrelationTags)
}

func TestParse_InvalidPayload(t *testing.T) {
	t.Parallel()

	_, err := webhook.Parse([]byte(`not json`))
	assert.ErrorIs(t, err, appErrors.ErrInvalidPayload)

	_, err = webhook.Parse([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, appErrors.ErrInvalidPayload)
}

func TestEventType_Mapping(t *testing.T) {
	t.Parallel()

	cases := map[string]model.EventType{
		"email.sent":       model.EventDelivery,
		"email.delivered":  model.EventDelivery,
		"email.opened":     model.EventOpen,
		"email.clicked":    model.EventClick,
		"email.bounced":    model.EventBounce,
		"email.complained": model.EventComplaint,
	}
	for in, want := range cases {
		got, ok := (&webhook.Event{Type: in}).EventType()
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := (&webhook.Event{Type: "email.delivery_delayed"}).EventType()
	assert.False(t, ok)
}
