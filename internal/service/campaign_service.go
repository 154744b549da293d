// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

var ErrInvalidCampaign = errors.New("invalid campaign")

// new units wait this long before their first send
const assignDelay = time.Minute

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	UnitRepo     repository.CampaignContactRepositoryInterface
	Links        *links.Signer
	Renderer     TemplateRenderer
	Now          func() time.Time
	Logger       *slog.Logger
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

type AssignResult struct {
	CampaignID uuid.UUID   `json:"campaign_id"`
	Created    int         `json:"created"`
	Existing   int         `json:"existing"`
	Missing    []uuid.UUID `json:"missing,omitempty"`
}

type Preview struct {
	Subject          string   `json:"subject"`
	Body             string   `json:"body"`
	StepNumber       int      `json:"step_number"`
	UnknownVariables []string `json:"unknown_variables"`
}

var campaignValidate = validator.New(validator.WithRequiredStructEnabled())

type campaignInput struct {
	OrgID     uuid.UUID `validate:"required"`
	Name      string    `validate:"required,max=200"`
	FromEmail string    `validate:"required,email"`
	ReplyTo   string    `validate:"omitempty,email"`
	Steps     int       `validate:"gte=1"`
}

// CreateCampaign validates and stores a campaign with its sequence. Step
// numbers default to their position.
func (s *CampaignService) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	err := campaignValidate.Struct(campaignInput{
		OrgID:     c.OrgID,
		Name:      c.Name,
		FromEmail: c.FromEmail,
		ReplyTo:   c.ReplyTo,
		Steps:     len(c.Steps),
	})
	if err != nil {
		return errors.Join(ErrInvalidCampaign, err)
	}

	for i := range c.Steps {
		if c.Steps[i].StepNumber == 0 {
			c.Steps[i].StepNumber = i + 1
		}
		if strings.TrimSpace(c.Steps[i].SubjectTemplate) == "" || strings.TrimSpace(c.Steps[i].BodyTemplate) == "" {
			return fmt.Errorf("%w: step %d needs a subject and a body", ErrInvalidCampaign, c.Steps[i].StepNumber)
		}
	}
	if c.Status == "" {
		c.Status = "draft"
	}
	return s.CampaignRepo.Create(ctx, c)
}

// AssignAudience enrolls contacts in a campaign. Contacts already enrolled
// are left untouched; unknown contact ids are reported back.
func (s *CampaignService) AssignAudience(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) (*AssignResult, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}

	result := &AssignResult{CampaignID: campaignID}
	sendAt := s.Now().Add(assignDelay)
	for _, contactID := range contactIDs {
		contact, err := s.ContactRepo.GetByID(ctx, contactID)
		if errors.Is(err, appErrors.ErrContactNotFound) {
			result.Missing = append(result.Missing, contactID)
			continue
		}
		if err != nil {
			return nil, err
		}

		_, created, err := s.UnitRepo.CreateIfNotExists(ctx, &model.CampaignContact{
			CampaignID:        campaignID,
			ContactID:         contactID,
			Email:             contact.Email,
			Status:            model.StatusPending,
			ScheduledSendTime: sendAt,
		})
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Existing++
		}
	}

	s.Logger.InfoContext(ctx, "audience assigned",
		logger.CampaignID(campaignID),
		slog.Int("created", result.Created),
		slog.Int("existing", result.Existing),
		slog.Int("missing", len(result.Missing)),
	)
	return result, nil
}

// RenderPreview renders a step for one contact. overrideTemplate replaces
// the body when it is not blank.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, contactID uuid.UUID, stepNumber int, overrideTemplate *string) (*Preview, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if stepNumber == 0 {
		stepNumber = firstStep
	}
	step := campaign.Step(stepNumber)
	if step == nil {
		return nil, fmt.Errorf("%w: campaign %s step %d", appErrors.ErrMissingSequenceStep, campaignID, stepNumber)
	}

	contact, err := s.ContactRepo.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}

	tmpl := *step
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		tmpl.BodyTemplate = *overrideTemplate
	}

	data := NewRecipientData(contact, "")
	if s.Links != nil {
		// preview links are never tied to a real unit
		data.UnsubscribeURL = s.Links.UnsubscribeURL(campaignID, uuid.Nil)
	}

	subject, body, err := s.Renderer.Render(&tmpl, data)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Subject:          subject,
		Body:             body,
		StepNumber:       stepNumber,
		UnknownVariables: append(UnknownVariables(tmpl.SubjectTemplate, data), UnknownVariables(tmpl.BodyTemplate, data)...),
	}, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID uuid.UUID) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}
