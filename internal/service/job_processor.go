package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/campaign-mailer/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/links"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/realtime"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

type JobOutcome string

const (
	OutcomeSent             JobOutcome = "sent"
	OutcomeFailed           JobOutcome = "failed"
	OutcomeSkipped          JobOutcome = "skipped"
	OutcomeRateLimited      JobOutcome = "rate_limited"
	OutcomeNotReady         JobOutcome = "not_ready"
	OutcomeAlreadyProcessed JobOutcome = "already_processed"
	// OutcomeError is a lookup failure before the unit was touched.
	OutcomeError JobOutcome = "error"
)

type JobResult struct {
	Outcome   JobOutcome
	MessageID string
	Err       error
}

func (r JobResult) Success() bool {
	return r.Outcome == OutcomeSent
}

// RateLimitChecker is satisfied by *RateLimiter.
type RateLimitChecker interface {
	CheckRateLimits(ctx context.Context, orgID uuid.UUID) RateLimitResult
}

// the step every new unit starts on
const firstStep = 1

// JobProcessor sends one CampaignContact through the pipeline.
type JobProcessor struct {
	Units      repository.CampaignContactRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Events     repository.EmailEventRepositoryInterface
	Limiter    RateLimitChecker
	Dispatcher dispatch.Dispatcher
	Links      *links.Signer
	Publisher  realtime.Publisher
	Renderer   TemplateRenderer

	RateLimitDelay time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// ProcessEmailJob runs the precondition checks and, when they pass, claims,
// renders and dispatches the unit. Every path that claims the unit leaves it
// in sent or failed.
func (p *JobProcessor) ProcessEmailJob(ctx context.Context, id uuid.UUID) JobResult {
	res := p.process(ctx, id)
	metrics.JobOutcomes.WithLabelValues(string(res.Outcome)).Inc()

	attrs := []any{logger.CampaignContactID(id), logger.Outcome(string(res.Outcome)), logger.MessageID(res.MessageID)}
	switch res.Outcome {
	case OutcomeFailed, OutcomeError:
		p.Logger.ErrorContext(ctx, "email job failed", append(attrs, logger.Error(res.Err))...)
	case OutcomeSent:
		p.Logger.InfoContext(ctx, "email job sent", attrs...)
	default:
		p.Logger.DebugContext(ctx, "email job not sent", append(attrs, logger.Error(res.Err))...)
	}
	return res
}

func (p *JobProcessor) process(ctx context.Context, id uuid.UUID) JobResult {
	cc, err := p.Units.GetByID(ctx, id)
	if err != nil {
		return JobResult{Outcome: OutcomeError, Err: err}
	}

	campaign, err := p.Campaigns.GetByID(ctx, cc.CampaignID)
	if err != nil && !appErrors.IsNotFound(err) {
		return JobResult{Outcome: OutcomeError, Err: err}
	}
	contact, err := p.Contacts.GetByID(ctx, cc.ContactID)
	if err != nil && !errors.Is(err, appErrors.ErrContactNotFound) {
		return JobResult{Outcome: OutcomeError, Err: err}
	}

	now := p.Now()
	if !cc.IsDue(now) {
		return JobResult{Outcome: OutcomeNotReady, Err: appErrors.ErrNotReady}
	}
	if cc.Status != model.StatusPending {
		return JobResult{Outcome: OutcomeAlreadyProcessed, Err: appErrors.ErrAlreadyProcessed}
	}

	if campaign == nil {
		return p.failPending(ctx, cc, appErrors.NewCampaignNotFound(cc.CampaignID))
	}
	step := campaign.Step(firstStep)
	if step == nil {
		return p.failPending(ctx, cc, fmt.Errorf("%w: campaign %s step %d", appErrors.ErrMissingSequenceStep, campaign.ID, firstStep))
	}

	if contact == nil || !contact.IsActive {
		ok, err := p.Units.Transition(ctx, cc.ID, model.StatusPending, model.StatusSkipped, appErrors.ErrContactInactive.Error())
		if err != nil {
			return JobResult{Outcome: OutcomeError, Err: err}
		}
		if !ok {
			return JobResult{Outcome: OutcomeAlreadyProcessed, Err: appErrors.ErrAlreadyProcessed}
		}
		p.publish(ctx, cc, model.StatusSkipped)
		return JobResult{Outcome: OutcomeSkipped, Err: appErrors.ErrContactInactive}
	}

	if limit := p.Limiter.CheckRateLimits(ctx, campaign.OrgID); !limit.CanSend {
		if _, err := p.Units.Reschedule(ctx, cc.ID, now.Add(p.RateLimitDelay)); err != nil {
			return JobResult{Outcome: OutcomeError, Err: err}
		}
		return JobResult{Outcome: OutcomeRateLimited, Err: fmt.Errorf("%w: %s", appErrors.ErrRateLimited, limit.Reason)}
	}

	claimed, err := p.Units.Claim(ctx, cc.ID)
	if err != nil {
		return JobResult{Outcome: OutcomeError, Err: err}
	}
	if !claimed {
		return JobResult{Outcome: OutcomeAlreadyProcessed, Err: appErrors.ErrAlreadyProcessed}
	}

	return p.sendClaimed(ctx, cc, campaign, contact, step)
}

// sendClaimed owns a unit in processing and always moves it to sent or
// failed, including when something below panics.
func (p *JobProcessor) sendClaimed(ctx context.Context, cc *model.CampaignContact, campaign *model.Campaign, contact *model.Contact, step *model.SequenceStep) (res JobResult) {
	// finish the unit even if the caller has given up
	finishCtx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			res = p.finishFailed(finishCtx, cc, fmt.Errorf("panic while sending: %v", r))
		}
	}()

	messageID, err := p.deliver(ctx, cc, campaign, contact, step)
	if err != nil {
		return p.finishFailed(finishCtx, cc, err)
	}
	return p.finishSent(finishCtx, cc, messageID)
}

func (p *JobProcessor) deliver(ctx context.Context, cc *model.CampaignContact, campaign *model.Campaign, contact *model.Contact, step *model.SequenceStep) (string, error) {
	data := NewRecipientData(contact, cc.Email)
	unsubscribeURL := ""
	if p.Links != nil {
		unsubscribeURL = p.Links.UnsubscribeURL(campaign.ID, cc.ID)
	}
	data.UnsubscribeURL = unsubscribeURL

	subject, body, err := p.Renderer.Render(step, data)
	if err != nil {
		return "", err
	}

	trackOpens, trackClicks := campaign.TrackOpens, campaign.TrackClicks
	if p.Links != nil && p.Links.Enabled() {
		target := links.Target{CampaignID: campaign.ID, ContactID: cc.ID, StepNumber: step.StepNumber}
		body = p.Links.InjectTracking(body, target, trackOpens, trackClicks)
		// our own pixel and redirects replace the provider's
		trackOpens, trackClicks = false, false
	}

	res, err := p.Dispatcher.Send(ctx, dispatch.Message{
		To:             data.Email,
		Subject:        subject,
		HTML:           body,
		CampaignID:     campaign.ID,
		ContactID:      cc.ID,
		StepNumber:     step.StepNumber,
		From:           campaign.From(),
		ReplyTo:        campaign.ReplyTo,
		TrackOpens:     trackOpens,
		TrackClicks:    trackClicks,
		UnsubscribeURL: unsubscribeURL,
	})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

func (p *JobProcessor) failPending(ctx context.Context, cc *model.CampaignContact, cause error) JobResult {
	ok, err := p.Units.Transition(ctx, cc.ID, model.StatusPending, model.StatusFailed, cause.Error())
	if err != nil {
		return JobResult{Outcome: OutcomeError, Err: errors.Join(cause, err)}
	}
	if !ok {
		return JobResult{Outcome: OutcomeAlreadyProcessed, Err: appErrors.ErrAlreadyProcessed}
	}
	p.publish(ctx, cc, model.StatusFailed)
	return JobResult{Outcome: OutcomeFailed, Err: cause}
}

func (p *JobProcessor) finishFailed(ctx context.Context, cc *model.CampaignContact, cause error) JobResult {
	if _, err := p.Units.Transition(ctx, cc.ID, model.StatusProcessing, model.StatusFailed, cause.Error()); err != nil {
		return JobResult{Outcome: OutcomeFailed, Err: errors.Join(cause, err)}
	}
	p.publish(ctx, cc, model.StatusFailed)
	return JobResult{Outcome: OutcomeFailed, Err: cause}
}

func (p *JobProcessor) finishSent(ctx context.Context, cc *model.CampaignContact, messageID string) JobResult {
	sentAt := p.Now()
	ok, err := p.Units.MarkSent(ctx, cc.ID, messageID, sentAt)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("unit %s left processing before it could be marked sent", cc.ID)
		}
		cause := fmt.Errorf("message %s accepted but status update failed: %w", messageID, err)
		_, _ = p.Units.Transition(ctx, cc.ID, model.StatusProcessing, model.StatusFailed, cause.Error())
		return JobResult{Outcome: OutcomeFailed, MessageID: messageID, Err: cause}
	}

	event := &model.EmailEvent{
		CampaignID:        cc.CampaignID,
		ContactID:         cc.ID,
		StepNumber:        firstStep,
		EventType:         model.EventSent,
		ProviderMessageID: messageID,
		CreatedAt:         sentAt,
	}
	if err := p.Events.Append(ctx, event); err != nil {
		// the unit is sent; only the rate counter undercounts
		p.Logger.WarnContext(ctx, "failed to record sent event", logger.CampaignContactID(cc.ID), logger.Error(err))
	}
	p.publish(ctx, cc, model.StatusSent)
	return JobResult{Outcome: OutcomeSent, MessageID: messageID}
}

func (p *JobProcessor) publish(ctx context.Context, cc *model.CampaignContact, status model.ContactStatus) {
	if p.Publisher == nil {
		return
	}
	u := realtime.Update{CampaignID: cc.CampaignID, ContactID: cc.ID, Status: status, At: p.Now()}
	if err := p.Publisher.Publish(ctx, u); err != nil {
		p.Logger.WarnContext(ctx, "failed to publish status update", logger.CampaignContactID(cc.ID), logger.Error(err))
	}
}
