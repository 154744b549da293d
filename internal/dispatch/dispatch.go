// Package dispatch hands rendered messages to a delivery provider.
package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Correlation tag names attached to every outgoing message.
const (
	TagCampaignID = "campaign_id"
	TagContactID  = "contact_id"
	TagStepNumber = "step_number"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidConfig  = errors.New("invalid dispatcher configuration")
)

// Message is one rendered email addressed to one recipient.
type Message struct {
	To             string
	Subject        string
	HTML           string
	CampaignID     uuid.UUID
	ContactID      uuid.UUID // campaign_contacts.id
	StepNumber     int
	From           string
	ReplyTo        string
	TrackOpens     bool
	TrackClicks    bool
	UnsubscribeURL string
}

func (m Message) Validate() error {
	switch {
	case m.To == "":
		return errors.Join(ErrInvalidMessage, errors.New("recipient is required"))
	case m.Subject == "":
		return errors.Join(ErrInvalidMessage, errors.New("subject is required"))
	case m.HTML == "":
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	case m.CampaignID == uuid.Nil || m.ContactID == uuid.Nil:
		return errors.Join(ErrInvalidMessage, errors.New("correlation ids are required"))
	}
	return nil
}

// Result carries the provider's id for the accepted message.
type Result struct {
	MessageID string
}

// Dispatcher delivers a message. A nil error means the provider accepted it.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, msg Message) (Result, error)

func (f DispatcherFunc) Send(ctx context.Context, msg Message) (Result, error) {
	return f(ctx, msg)
}
