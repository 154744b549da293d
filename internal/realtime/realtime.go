// Package realtime fans derived status changes out to live subscribers.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

const channelPrefix = "mailer:status:"

// Update is one recomputed recipient status.
type Update struct {
	CampaignID uuid.UUID           `json:"campaign_id"`
	ContactID  uuid.UUID           `json:"contact_id"`
	Status     model.ContactStatus `json:"status"`
	EventType  model.EventType     `json:"event_type,omitempty"`
	At         time.Time           `json:"at"`
}

// Channel is the Redis channel carrying updates for one campaign.
func Channel(campaignID uuid.UUID) string {
	return channelPrefix + campaignID.String()
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// NoopPublisher drops updates. Used when nothing listens.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Update) error { return nil }
