// internal/model/campaign.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Campaign struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	OrgID       uuid.UUID      `db:"org_id" json:"org_id"`
	Name        string         `db:"name" json:"name"`
	Status      string         `db:"status" json:"status"`
	FromName    string         `db:"from_name" json:"from_name"`
	FromEmail   string         `db:"from_email" json:"from_email"`
	ReplyTo     string         `db:"reply_to" json:"reply_to,omitempty"`
	TrackOpens  bool           `db:"track_opens" json:"track_opens"`
	TrackClicks bool           `db:"track_clicks" json:"track_clicks"`
	Steps       []SequenceStep `json:"steps,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// From formats the sender header. Falls back to the bare address when no
// display name is configured.
func (c *Campaign) From() string {
	if c.FromName == "" {
		return c.FromEmail
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
}

// Step returns the sequence step with the given number, or nil.
func (c *Campaign) Step(number int) *SequenceStep {
	for i := range c.Steps {
		if c.Steps[i].StepNumber == number {
			return &c.Steps[i]
		}
	}
	return nil
}

type SequenceStep struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	CampaignID      uuid.UUID     `db:"campaign_id" json:"campaign_id"`
	StepNumber      int           `db:"step_number" json:"step_number"`
	SubjectTemplate string        `db:"subject_template" json:"subject_template"`
	BodyTemplate    string        `db:"body_template" json:"body_template"`
	Delay           time.Duration `db:"delay_minutes" json:"delay"`
}
