package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Event is the provider callback envelope.
type Event struct {
	Type      string    `json:"type" validate:"required"`
	Data      EventData `json:"data" validate:"-"` // tags are checked by Correlation
	CreatedAt time.Time `json:"created_at"`
}

type EventData struct {
	ID        string     `json:"id"`
	To        Recipients `json:"to"`
	From      string     `json:"from"`
	Subject   string     `json:"subject"`
	Tags      Tags       `json:"tags"`
	Bounce    *Bounce    `json:"bounce,omitempty"`
	Complaint *Complaint `json:"complaint,omitempty"`
	URL       string     `json:"url,omitempty"`
}

type Bounce struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	Diagnostic string `json:"diagnostic"`
}

type Complaint struct {
	Type      string `json:"type"`
	UserAgent string `json:"userAgent"`
}

// Recipients accepts either a single address or a list.
type Recipients []string

func (r *Recipients) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Recipients{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*r = list
	return nil
}

// Tags carries the correlation values. Providers send them either as an
// object or as a list of {name, value} pairs; values may be strings or
// numbers.
type Tags struct {
	CampaignID string `validate:"required,uuid"`
	ContactID  string `validate:"required,uuid"`
	StepNumber int    `validate:"gte=1"`
}

func (t *Tags) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	values := map[string]json.RawMessage{}

	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
	case b[0] == '[':
		var pairs []struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(b, &pairs); err != nil {
			return err
		}
		for _, p := range pairs {
			values[p.Name] = p.Value
		}
	default:
		if err := json.Unmarshal(b, &values); err != nil {
			return err
		}
	}

	t.CampaignID = rawString(values[dispatch.TagCampaignID])
	t.ContactID = rawString(values[dispatch.TagContactID])
	t.StepNumber = 1
	if step := rawString(values[dispatch.TagStepNumber]); step != "" {
		n, err := strconv.Atoi(step)
		if err != nil {
			return fmt.Errorf("step_number: %w", err)
		}
		t.StepNumber = n
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// Correlation is the validated link back to a unit.
type Correlation struct {
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	StepNumber int
}

// Parse decodes and validates the envelope. Tags are not checked here; see
// Event.Correlation.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Join(appErrors.ErrInvalidPayload, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, errors.Join(appErrors.ErrInvalidPayload, err)
	}
	return &ev, nil
}

// Correlation validates the tags. Missing or malformed ids yield
// ErrMissingCorrelationTags.
func (e *Event) Correlation() (Correlation, error) {
	if err := validate.Struct(e.Data.Tags); err != nil {
		return Correlation{}, errors.Join(appErrors.ErrMissingCorrelationTags, err)
	}
	return Correlation{
		CampaignID: uuid.MustParse(e.Data.Tags.CampaignID),
		ContactID:  uuid.MustParse(e.Data.Tags.ContactID),
		StepNumber: e.Data.Tags.StepNumber,
	}, nil
}

var eventTypes = map[string]model.EventType{
	"email.sent":       model.EventDelivery,
	"email.delivered":  model.EventDelivery,
	"email.opened":     model.EventOpen,
	"email.clicked":    model.EventClick,
	"email.bounced":    model.EventBounce,
	"email.complained": model.EventComplaint,
}

// EventType maps the provider type onto the event log vocabulary.
func (e *Event) EventType() (model.EventType, bool) {
	t, ok := eventTypes[e.Type]
	return t, ok
}

// Metadata keeps the provider details worth storing with the event.
func (e *Event) Metadata() map[string]string {
	m := map[string]string{"provider_type": e.Type}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("to", strings.Join(e.Data.To, ","))
	set("subject", e.Data.Subject)
	set("url", e.Data.URL)
	if !e.CreatedAt.IsZero() {
		m["occurred_at"] = e.CreatedAt.UTC().Format(time.RFC3339)
	}
	if b := e.Data.Bounce; b != nil {
		set("bounce_type", b.Type)
		set("bounce_reason", b.Reason)
		set("bounce_diagnostic", b.Diagnostic)
	}
	if c := e.Data.Complaint; c != nil {
		set("complaint_type", c.Type)
		set("complaint_user_agent", c.UserAgent)
	}
	return m
}
