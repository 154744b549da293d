// internal/model/campaign_contact.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type ContactStatus string

const (
	StatusPending    ContactStatus = "pending"
	StatusProcessing ContactStatus = "processing"
	StatusSent       ContactStatus = "sent"
	StatusFailed     ContactStatus = "failed"
	StatusSkipped    ContactStatus = "skipped"

	// derived from the event log, never written to the status column
	StatusDelivered    ContactStatus = "delivered"
	StatusOpened       ContactStatus = "opened"
	StatusClicked      ContactStatus = "clicked"
	StatusBounced      ContactStatus = "bounced"
	StatusComplained   ContactStatus = "complained"
	StatusUnsubscribed ContactStatus = "unsubscribed"
)

// CampaignContact is one recipient's progress through one campaign.
type CampaignContact struct {
	ID                    uuid.UUID     `db:"id" json:"id"`
	CampaignID            uuid.UUID     `db:"campaign_id" json:"campaign_id"`
	ContactID             uuid.UUID     `db:"contact_id" json:"contact_id"`
	Email                 string        `db:"email" json:"email"`
	Status                ContactStatus `db:"status" json:"status"`
	DerivedStatus         ContactStatus `db:"derived_status" json:"derived_status,omitempty"`
	ScheduledSendTime     time.Time     `db:"scheduled_send_time" json:"scheduled_send_time"`
	SentAt                *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	OpenedAt              *time.Time    `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt             *time.Time    `db:"clicked_at" json:"clicked_at,omitempty"`
	LastError             string        `db:"last_error" json:"last_error,omitempty"`
	RetryCount            int           `db:"retry_count" json:"retry_count"`
	LastProviderMessageID string        `db:"last_provider_message_id" json:"last_provider_message_id,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus is what gets displayed: the derived overlay when the event
// log produced one, the scheduler status otherwise.
func (cc *CampaignContact) EffectiveStatus() ContactStatus {
	if cc.DerivedStatus != "" {
		return cc.DerivedStatus
	}
	return cc.Status
}

// IsDue reports whether the unit may be sent at now.
func (cc *CampaignContact) IsDue(now time.Time) bool {
	return !cc.ScheduledSendTime.After(now)
}
