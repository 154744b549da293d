// internal/model/email_event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSent        EventType = "sent"
	EventDelivery    EventType = "delivery"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventComplaint   EventType = "complaint"
	EventUnsubscribe EventType = "unsubscribe"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivery, EventOpen, EventClick, EventBounce, EventComplaint, EventUnsubscribe:
		return true
	}
	return false
}

// EmailEvent is an immutable log entry. Rows are appended and, after
// retention, deleted; never updated.
type EmailEvent struct {
	ID                uuid.UUID         `db:"id" json:"id"`
	CampaignID        uuid.UUID         `db:"campaign_id" json:"campaign_id"`
	ContactID         uuid.UUID         `db:"contact_id" json:"contact_id"` // campaign_contacts.id
	StepNumber        int               `db:"step_number" json:"step_number"`
	EventType         EventType         `db:"event_type" json:"event_type"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	Metadata          map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}
