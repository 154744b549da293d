package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCampaignNotFound is returned when a campaign lookup misses.
type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCampaignContactNotFound is returned when a unit of work does not exist.
type ErrCampaignContactNotFound struct {
	ID uuid.UUID
}

func (e *ErrCampaignContactNotFound) Error() string {
	return fmt.Sprintf("campaign contact with ID %s not found", e.ID)
}

func NewCampaignContactNotFound(id uuid.UUID) error {
	return &ErrCampaignContactNotFound{ID: id}
}

// IsNotFound matches any of the typed not-found errors.
func IsNotFound(err error) bool {
	var campaignErr *ErrCampaignNotFound
	var contactErr *ErrCampaignContactNotFound
	return errors.As(err, &campaignErr) || errors.As(err, &contactErr) || errors.Is(err, ErrContactNotFound)
}

// Job processing outcomes that are not failures.
var (
	ErrNotReady         = errors.New("job not ready yet")
	ErrAlreadyProcessed = errors.New("job already processed")
	ErrContactInactive  = errors.New("contact is not active")
	ErrRateLimited      = errors.New("rate limited")
)

// Hard failures that move a unit to failed.
var (
	ErrMissingSequenceStep = errors.New("sequence step not found")
	ErrTemplateDataMissing = errors.New("template data missing")
	ErrDelivery            = errors.New("provider delivery failed")
	ErrDeliveryTimeout     = errors.New("provider delivery timed out")
)

// Webhook and lookup errors.
var (
	ErrInvalidSignature        = errors.New("webhook signature verification failed")
	ErrMissingCorrelationTags  = errors.New("missing campaign or contact correlation tags")
	ErrInvalidPayload          = errors.New("invalid webhook payload")
	ErrPlanLookup              = errors.New("organization plan lookup failed")
	ErrContactNotFound         = errors.New("contact not found")
	ErrInvalidLinkToken        = errors.New("invalid link token")
	ErrRetentionWindowTooShort = errors.New("retention window overlaps the monthly rate window")
)
